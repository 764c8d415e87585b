package codec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec uses encoding/json for the envelope.
// Human-readable and easy to debug with tcpdump; Payload travels base64-encoded.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.WithStack(err)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return errors.WithStack(json.Unmarshal(data, v))
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
