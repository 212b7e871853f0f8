package mdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/INLOpen/nexusmdf/blocks"
	"github.com/INLOpen/nexusmdf/core"
)

// formatCodec is the version-family serializer. The two families share
// nothing at the byte level, so each is a separate implementation
// behind this interface and the engine dispatches once per file.
type formatCodec interface {
	load(m *MDF, r *blocks.Reader, id *blocks.Identification) error
	save(m *MDF) ([]byte, error)
}

func codecFor(version core.FormatVersion) formatCodec {
	if version.IsV4() {
		return &mdf4Codec{}
	}
	return &mdf3Codec{}
}

// OpenReader loads a measurement from a random-access stream.
func OpenReader(src io.ReaderAt, size int64, opts Options) (*MDF, error) {
	r := blocks.NewReader(src, size)
	id, err := blocks.ReadIdentification(r)
	if err != nil {
		return nil, err
	}
	m, err := New(id.Version, opts)
	if err != nil {
		return nil, err
	}
	if id.Unfinalized {
		// interrupted recordings keep valid block headers; trust the
		// declared sizes and let a truncated chain surface as a
		// FormatError from the block reads
		m.logger.Warn("file was not finalized by its writer, loading best effort",
			"version", id.Version)
	}
	m.header.Program = id.Program
	if err := codecFor(id.Version).load(m, r, id); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.reindex(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Open loads a measurement from disk. Zip, gzip and bzip2 containers
// are unpacked transparently.
func Open(path string, opts Options) (*MDF, error) {
	data, err := readMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	m, err := OpenReader(bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m.name = path
	return m, nil
}

// Save writes the measurement under its own format version.
func (m *MDF) Save(ctx context.Context, path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	ctx, span := m.tracer.Start(ctx, "MDF.Save")
	defer span.End()
	_ = ctx

	img, err := codecFor(m.version).save(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	m.logger.Info("measurement saved", "path", path, "bytes", len(img), "version", m.version)
	return nil
}

// WriteTo serializes the measurement to w.
func (m *MDF) WriteTo(w io.Writer) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	img, err := codecFor(m.version).save(m)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(img)
	return int64(n), err
}

// readFragmentSize resolves the configured read fragment size, sizing
// adaptively from available memory when unset.
func (m *MDF) readFragmentSize() int64 {
	if v := m.cfg.Engine.Read.FragmentSizeBytes; v > 0 {
		return v
	}
	return core.AdaptiveReadFragmentSize()
}

// splitIntoFragments feeds a whole-record byte run into a store in
// read-fragment-size chunks aligned to the record stride.
func splitIntoFragments(store *recordStore, data []byte, stride int, maxFrag int64) error {
	if stride <= 0 {
		return nil
	}
	records := len(data) / stride
	perFrag := records
	if maxFrag > 0 {
		if n := int(maxFrag) / stride; n > 0 && n < perFrag {
			perFrag = n
		}
	}
	for start := 0; start < records; start += perFrag {
		end := start + perFrag
		if end > records {
			end = records
		}
		chunk := append([]byte(nil), data[start*stride:end*stride]...)
		if err := store.appendFragment(chunk, end-start); err != nil {
			return err
		}
	}
	return nil
}
