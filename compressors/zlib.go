package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/INLOpen/nexusmdf/core"
)

// ZlibCompressor implements the Compressor interface using the deflate
// stream mandated by the MDF v4 ##DZ data block.
type ZlibCompressor struct{}

var _ core.Compressor = (*ZlibCompressor)(nil)

func NewZlibCompressor() *ZlibCompressor {
	return &ZlibCompressor{}
}

func (c *ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress error: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress error: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *ZlibCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress error: %w", err)
	}
	return r, nil
}

func (c *ZlibCompressor) Type() core.CompressionType {
	return core.CompressionZlib
}

func (c *ZlibCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	w := zlib.NewWriter(dst)
	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}
