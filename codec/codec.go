// Package codec serializes the call envelope (message.RPCMessage) and the messages it
// carries.
//
// Two layers live here:
//   - Codec encodes whole envelopes. The frame header names the codec, so a server answers
//     every request with the codec it arrived in.
//   - Marshaller[T] (see marshaller.go) encodes one message type into the envelope Payload.
package codec

import "github.com/pkg/errors"

// CodecType identifies an envelope codec on the wire.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Codec encodes and decodes *message.RPCMessage values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for codecType, falling back to Binary.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name onto a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, errors.Errorf("unknown codec %q", name)
	}
}
