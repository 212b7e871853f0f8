package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/nexusmdf/core"
)

// ZstdCompressor implements the Compressor interface using zstd.
// Encoders and decoders are pooled; creating them is expensive.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

// Close returns the decoder to the pool instead of invalidating it.
func (zrc *zstdReadCloser) Close() error {
	zrc.pool.Put(zrc.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	c := &ZstdCompressor{}
	c.encoderPool.New = func() interface{} {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil
		}
		return enc
	}
	c.decoderPool.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(100*1024*1024))
		if err != nil {
			return nil
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, ok := c.encoderPool.Get().(*zstd.Encoder)
	if !ok || enc == nil {
		return nil, fmt.Errorf("failed to acquire zstd encoder")
	}
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, ok := c.decoderPool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		return nil, fmt.Errorf("failed to acquire zstd decoder")
	}
	decompressed, err := dec.DecodeAll(data, nil)
	if err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	c.decoderPool.Put(dec)
	return &memReadCloser{Reader: bytes.NewReader(decompressed)}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	compressed, err := c.Compress(src)
	if err != nil {
		return err
	}
	dst.Reset()
	dst.Write(compressed)
	return nil
}
