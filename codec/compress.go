package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"logstreamer/protocol"
)

// CompressionZstd is the name used in call options and configuration.
const CompressionZstd = "zstd"

// Encoders and decoders are safe for concurrent EncodeAll/DecodeAll, one pair serves the
// whole process.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		// Decompressed bodies are bounded like frames, a small frame must not expand without limit.
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(protocol.MaxBodyLen)))
	})
	return zstdEncoder, zstdDecoder, errors.WithStack(zstdErr)
}

// ValidCompression reports whether name is a supported compressor ("" means none).
func ValidCompression(name string) bool {
	return name == "" || name == CompressionZstd
}

// Compress compresses data with the named compressor. Empty name returns data unchanged.
func Compress(name string, data []byte) ([]byte, error) {
	switch name {
	case "":
		return data, nil
	case CompressionZstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
	default:
		return nil, errors.Errorf("unknown compression %q", name)
	}
}

// Decompress reverses Compress.
func Decompress(name string, data []byte) ([]byte, error) {
	switch name {
	case "":
		return data, nil
	case CompressionZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(data, nil)
		return out, errors.WithStack(err)
	default:
		return nil, errors.Errorf("unknown compression %q", name)
	}
}
