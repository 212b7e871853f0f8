package compressors

import (
	"bytes"
	"io"

	"github.com/INLOpen/nexusmdf/core"
)

// NoCompressionCompressor implements the Compressor interface without
// performing compression.
type NoCompressionCompressor struct{}

type memReadCloser struct {
	*bytes.Reader
}

func (m *memReadCloser) Close() error { return nil }

var _ core.Compressor = (*NoCompressionCompressor)(nil)
var _ io.ReadCloser = (*memReadCloser)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return &memReadCloser{Reader: bytes.NewReader(data)}, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}

// CompressTo "compresses" src into dst by simply writing it, avoiding
// the allocation Compress would do.
func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
