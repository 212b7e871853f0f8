package mdf

import (
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// readMaybeCompressed reads a measurement file, unpacking zip, gzip or
// bzip2 containers by magic sniffing. The decompressed image is
// returned in memory; the engine re-fragments it while loading.
func readMaybeCompressed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case len(raw) >= 4 && bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return unpackZip(raw)
	case len(raw) >= 2 && raw[0] == 0x1F && raw[1] == 0x8B:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip input: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case len(raw) >= 3 && bytes.HasPrefix(raw, []byte("BZh")):
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(raw)))
	}
	return raw, nil
}

// unpackZip extracts the measurement entry from a zip archive: the
// first entry with a known extension, else the first file at all.
func unpackZip(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("zip input: %w", err)
	}
	var pick *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".mdf") || strings.HasSuffix(name, ".mf4") ||
			strings.HasSuffix(name, ".dat") {
			pick = f
			break
		}
		if pick == nil {
			pick = f
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("zip input holds no files")
	}
	rc, err := pick.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
