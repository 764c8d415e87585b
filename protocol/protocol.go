// Package protocol implements the binary frame protocol spoken between log streamer
// clients and servers.
//
// TCP is a byte stream, so every message is wrapped in a frame with a fixed-size 15-byte
// header followed by a variable-length body. The receiver reads the header first to learn
// the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│   seq   │ bodyLen │    body ...    │
//	│ lsp  │01│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic bytes "lsp" (log streamer protocol) reject connections that do not speak the
// protocol, e.g. an HTTP client hitting the wrong port.
const (
	MagicByte1 byte = 0x6c // 'l'
	MagicByte2 byte = 0x73 // 's'
	MagicByte3 byte = 0x70 // 'p'
	Version    byte = 0x01
	HeaderSize int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frames travelling over a connection.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server call
	MsgTypeResponse  MsgType = 1 // Server → Client terminal outcome
	MsgTypeHeartbeat MsgType = 2 // KeepAlive frame (no body)
	MsgTypeCancel    MsgType = 3 // Client → Server, abort the call with the same Seq (no body)
)

func (t MsgType) valid() bool {
	return t <= MsgTypeCancel
}

// Flags modify how the body is interpreted.
const (
	FlagZstd byte = 1 << 0 // body is zstd-compressed
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed header preceding every body.
type Header struct {
	CodecType byte    // Envelope format: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, Heartbeat or Cancel
	Flags     byte    // FlagZstd, ...
	Seq       uint32  // Matches a response or cancel to its request
	BodyLen   uint32
}

// Compressed reports whether the body carries FlagZstd.
func (h *Header) Compressed() bool {
	return h.Flags&FlagZstd != 0
}

// Encode writes a complete frame (header + body) to w in a single write.
// The caller must serialize writers sharing the same w, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return errors.Errorf("frame body too large: %d bytes", len(body))
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = h.Flags
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return errors.WithStack(err)
}

// Decode reads a complete frame (header + body) from r.
// io.ReadFull guarantees exactly N bytes are read, so partial reads never leak a half frame.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, errors.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, errors.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if !msgType.valid() {
		return nil, nil, errors.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[11:15])
	if bodyLen > MaxBodyLen {
		return nil, nil, errors.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Flags:     headerBuf[6],
		Seq:       binary.BigEndian.Uint32(headerBuf[7:11]),
		BodyLen:   bodyLen,
	}, body, nil
}
