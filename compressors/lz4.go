package compressors

import (
	"bytes"
	"fmt"
	"io"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/INLOpen/nexusmdf/core"
)

// LZ4Compressor implements the Compressor interface using the LZ4 block
// format.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(data) > 0 {
		return nil, fmt.Errorf("lz4 compression produced zero bytes for non-empty input")
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return &memReadCloser{Reader: bytes.NewReader(nil)}, nil
	}
	// The lz4 block format does not record the original size; grow the
	// destination until the block fits.
	dstSize := len(data) * 3
	if dstSize < 1024 {
		dstSize = 1024
	}
	for {
		dst := make([]byte, dstSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return &memReadCloser{Reader: bytes.NewReader(dst[:n])}, nil
		}
		if dstSize > 1<<30 {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		dstSize *= 2
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	compressed, err := c.Compress(src)
	if err != nil {
		return err
	}
	dst.Reset()
	dst.Write(compressed)
	return nil
}
