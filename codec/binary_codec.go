package codec

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"

	"logstreamer/message"
)

// BinaryCodec encodes the envelope as length-prefixed fields, big-endian:
//
//	method   u16 len + bytes
//	code     u32
//	error    u16 len + bytes
//	deadline i64 (unix nanoseconds)
//	metadata u16 count + count × (u16 len + key, u16 len + value)
//	payload  u32 len + bytes
type BinaryCodec struct{}

var errNotEnvelope = errors.New("BinaryCodec: v must be *RPCMessage")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotEnvelope
	}
	if len(msg.Metadata) > math.MaxUint16 {
		return nil, errors.Errorf("BinaryCodec: too many metadata entries: %d", len(msg.Metadata))
	}

	total := 2 + len(msg.Method) + 4 + 2 + len(msg.Error) + 8 + 2 + 4 + len(msg.Payload)
	for k, v := range msg.Metadata {
		total += 2 + len(k) + 2 + len(v)
	}

	w := binaryWriter{buf: make([]byte, 0, total)}
	if err := w.string16(msg.Method); err != nil {
		return nil, err
	}
	w.uint32(msg.Code)
	if err := w.string16(msg.Error); err != nil {
		return nil, err
	}
	w.uint64(uint64(msg.Deadline))

	// Sorted keys keep the encoding deterministic.
	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.uint16(uint16(len(keys)))
	for _, k := range keys {
		if err := w.string16(k); err != nil {
			return nil, err
		}
		if err := w.string16(msg.Metadata[k]); err != nil {
			return nil, err
		}
	}

	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, errors.Errorf("BinaryCodec: payload too large: %d", len(msg.Payload))
	}
	w.uint32(uint32(len(msg.Payload)))
	w.buf = append(w.buf, msg.Payload...)
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotEnvelope
	}

	r := binaryReader{data: data}
	msg.Method = r.string16()
	msg.Code = r.uint32()
	msg.Error = r.string16()
	msg.Deadline = int64(r.uint64())

	count := int(r.uint16())
	msg.Metadata = nil
	if count > 0 && r.err == nil {
		msg.Metadata = make(map[string]string, count)
		for range count {
			k := r.string16()
			msg.Metadata[k] = r.string16()
		}
	}

	payloadLen := int(r.uint32())
	msg.Payload = r.bytes(payloadLen)

	if r.err != nil {
		return r.err
	}
	if r.offset != len(data) {
		return errors.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.offset)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *binaryWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binaryWriter) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *binaryWriter) string16(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.Errorf("BinaryCodec: string field too long: %d", len(s))
	}
	w.uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// binaryReader remembers the first error; later reads return zero values.
type binaryReader struct {
	data   []byte
	offset int
	err    error
}

func (r *binaryReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.offset < n {
		r.err = errors.Errorf("BinaryCodec: truncated envelope at offset %d", r.offset)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *binaryReader) uint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *binaryReader) uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *binaryReader) uint64() uint64 {
	if b := r.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *binaryReader) string16() string {
	return string(r.next(int(r.uint16())))
}

func (r *binaryReader) bytes(n int) []byte {
	b := r.next(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
