package compressors

import (
	"fmt"

	"github.com/INLOpen/nexusmdf/core"
)

// Get returns a Compressor instance for the given CompressionType.
func Get(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return &SnappyCompressor{}, nil
	case core.CompressionLZ4:
		return &LZ4Compressor{}, nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	case core.CompressionZlib:
		return &ZlibCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", compressionType)
	}
}
