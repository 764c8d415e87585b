package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	requireT := require.New(t)

	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Flags:     FlagZstd,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	requireT.NoError(Encode(&buf, &header, body))
	requireT.Equal(HeaderSize+len(body), buf.Len())

	decodedHeader, decodedBody, err := Decode(&buf)
	requireT.NoError(err)
	requireT.Equal(header.CodecType, decodedHeader.CodecType)
	requireT.Equal(header.MsgType, decodedHeader.MsgType)
	requireT.Equal(header.Seq, decodedHeader.Seq)
	requireT.True(decodedHeader.Compressed())
	requireT.EqualValues(len(body), decodedHeader.BodyLen)
	requireT.Equal(body, decodedBody)
}

func TestDecodeSequentialFrames(t *testing.T) {
	requireT := require.New(t)

	var buf bytes.Buffer
	for seq := uint32(1); seq <= 3; seq++ {
		requireT.NoError(Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: seq}, []byte{byte(seq)}))
	}

	for seq := uint32(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		requireT.NoError(err)
		requireT.Equal(seq, h.Seq)
		requireT.Equal([]byte{byte(seq)}, body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	requireT := require.New(t)

	frame := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0, 0x30, 0x39, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	requireT.ErrorContains(err, "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	requireT := require.New(t)

	frame := []byte{MagicByte1, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0, 0, 1, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	requireT.ErrorContains(err, "unsupported version")
}

func TestDecodeInvalidMsgType(t *testing.T) {
	requireT := require.New(t)

	frame := []byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeJSON, 0x09, 0, 0, 0, 0, 1, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	requireT.ErrorContains(err, "unsupported message type")
}

func TestDecodeCancelFrame(t *testing.T) {
	requireT := require.New(t)

	var buf bytes.Buffer
	requireT.NoError(Encode(&buf, &Header{MsgType: MsgTypeCancel, Seq: 7}, nil))

	h, body, err := Decode(&buf)
	requireT.NoError(err)
	requireT.Equal(MsgTypeCancel, h.MsgType)
	requireT.Equal(uint32(7), h.Seq)
	requireT.Empty(body)
}

func TestDecodeBodyTooLarge(t *testing.T) {
	requireT := require.New(t)

	frame := []byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeBinary, byte(MsgTypeRequest), 0, 0, 0, 0, 1, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[11:15], MaxBodyLen+1)
	_, _, err := Decode(bytes.NewReader(frame))
	requireT.ErrorContains(err, "too large")
}

func TestDecodeTruncatedBody(t *testing.T) {
	requireT := require.New(t)

	var buf bytes.Buffer
	requireT.NoError(Encode(&buf, &Header{MsgType: MsgTypeRequest, Seq: 1}, []byte("hello world")))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, _, err := Decode(bytes.NewReader(truncated))
	requireT.Error(err)
}

func TestDecodeLargeBody(t *testing.T) {
	requireT := require.New(t)

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	requireT.NoError(Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}, largeBody))

	_, decodedBody, err := Decode(&buf)
	requireT.NoError(err)
	requireT.Equal(largeBody, decodedBody)
}
