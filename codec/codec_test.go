package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"logstreamer/message"
	"logstreamer/protocol"
)

func sampleEnvelope() *message.RPCMessage {
	return &message.RPCMessage{
		Method:   "/api.LogStreamer/Log",
		Code:     uint32(codes.DeadlineExceeded),
		Error:    "deadline exceeded",
		Deadline: time.Unix(1700000000, 42).UnixNano(),
		Metadata: map[string]string{"authorization": "Bearer t", "x-request-id": "abc"},
		Payload:  []byte(`{"path":"app","filename":"out.log","line":"hello"}`),
	}
}

func TestEnvelopeCodecs(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		requireT := require.New(t)

		original := sampleEnvelope()
		data, err := c.Encode(original)
		requireT.NoError(err)

		var decoded message.RPCMessage
		requireT.NoError(c.Decode(data, &decoded))
		requireT.Equal(*original, decoded, "codec %d", c.Type())
	}
}

func TestBinaryCodecEmptyEnvelope(t *testing.T) {
	requireT := require.New(t)

	c := &BinaryCodec{}
	data, err := c.Encode(&message.RPCMessage{})
	requireT.NoError(err)

	var decoded message.RPCMessage
	requireT.NoError(c.Decode(data, &decoded))
	requireT.Equal(message.RPCMessage{}, decoded)
}

func TestBinaryCodecDeterministic(t *testing.T) {
	requireT := require.New(t)

	c := &BinaryCodec{}
	a, err := c.Encode(sampleEnvelope())
	requireT.NoError(err)
	b, err := c.Encode(sampleEnvelope())
	requireT.NoError(err)
	requireT.True(bytes.Equal(a, b))
}

func TestBinaryCodecTruncated(t *testing.T) {
	requireT := require.New(t)

	c := &BinaryCodec{}
	data, err := c.Encode(sampleEnvelope())
	requireT.NoError(err)

	for _, n := range []int{0, 1, 5, len(data) - 1} {
		var decoded message.RPCMessage
		requireT.Error(c.Decode(data[:n], &decoded), "prefix %d", n)
	}

	var decoded message.RPCMessage
	requireT.ErrorContains(c.Decode(append(data, 0x00), &decoded), "trailing")
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	requireT := require.New(t)

	c := &BinaryCodec{}
	_, err := c.Encode("not an envelope")
	requireT.Error(err)
	requireT.Error(c.Decode([]byte{}, new(string)))
}

func TestGetCodec(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(CodecTypeJSON, GetCodec(CodecTypeJSON).Type())
	requireT.Equal(CodecTypeBinary, GetCodec(CodecTypeBinary).Type())

	ct, err := ParseCodecType("binary")
	requireT.NoError(err)
	requireT.Equal(CodecTypeBinary, ct)
	_, err = ParseCodecType("xml")
	requireT.Error(err)
}

type entry struct {
	Line string `json:"line"`
}

func TestJSONMarshaller(t *testing.T) {
	requireT := require.New(t)

	m := NewJSONMarshaller[*entry]()
	data, err := m.Marshal(&entry{Line: "hello"})
	requireT.NoError(err)

	v, err := m.Unmarshal(data)
	requireT.NoError(err)
	requireT.Equal("hello", v.Line)

	_, err = m.Unmarshal([]byte("{"))
	requireT.Error(err)
}

func TestCompression(t *testing.T) {
	requireT := require.New(t)

	data := bytes.Repeat([]byte("2024-01-01T00:00:00Z INFO request served\n"), 100)

	compressed, err := Compress(CompressionZstd, data)
	requireT.NoError(err)
	requireT.Less(len(compressed), len(data))

	decompressed, err := Decompress(CompressionZstd, compressed)
	requireT.NoError(err)
	requireT.Equal(data, decompressed)

	same, err := Compress("", data)
	requireT.NoError(err)
	requireT.Equal(data, same)

	_, err = Compress("lz4", data)
	requireT.Error(err)
	requireT.True(ValidCompression(""))
	requireT.False(ValidCompression("lz4"))
}

func TestDecompressionBounded(t *testing.T) {
	requireT := require.New(t)

	data := make([]byte, protocol.MaxBodyLen+1)
	compressed, err := Compress(CompressionZstd, data)
	requireT.NoError(err)
	requireT.Less(len(compressed), int(protocol.MaxBodyLen))

	_, err = Decompress(CompressionZstd, compressed)
	requireT.Error(err)

	compressed, err = Compress(CompressionZstd, data[:1<<20])
	requireT.NoError(err)
	decompressed, err := Decompress(CompressionZstd, compressed)
	requireT.NoError(err)
	requireT.Len(decompressed, 1<<20)
}
