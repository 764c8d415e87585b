// Package message defines the envelope exchanged between log streamer clients and servers.
//
// RPCMessage is the "envelope" for every call. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP.
package message

import (
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"logstreamer/rpc"
)

// RequestIDKey is the metadata key carrying the id the client assigned to a call.
const RequestIDKey = "x-request-id"

// RPCMessage carries the data for a single request or its terminal outcome.
//
//   - On request:  Method is set, Payload contains the marshalled request, Deadline and
//     Metadata come from the caller's call options.
//   - On response: Code is codes.OK and Payload contains the marshalled response, or Code
//     and Error describe the failure.
type RPCMessage struct {
	Method   string            `json:"method,omitempty"`   // Full method name, e.g. "/api.LogStreamer/Log"
	Code     uint32            `json:"code,omitempty"`     // codes.Code of the outcome
	Error    string            `json:"error,omitempty"`    // Status message when Code != OK
	Deadline int64             `json:"deadline,omitempty"` // Unix nanoseconds, 0 means none
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
}

// DeadlineTime returns the deadline carried by the message.
func (m *RPCMessage) DeadlineTime() (time.Time, bool) {
	if m.Deadline == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, m.Deadline), true
}

// SetDeadline stores t, zero clears it.
func (m *RPCMessage) SetDeadline(t time.Time) {
	if t.IsZero() {
		m.Deadline = 0
		return
	}
	m.Deadline = t.UnixNano()
}

// Err returns the status error described by a response, nil on success.
func (m *RPCMessage) Err() error {
	if codes.Code(m.Code) == codes.OK {
		return nil
	}
	return status.Error(codes.Code(m.Code), m.Error)
}

// NewRequest builds a request envelope. Multi-valued metadata keys are joined with ",".
func NewRequest(method string, payload []byte, deadline time.Time, md metadata.MD) *RPCMessage {
	msg := &RPCMessage{Method: method, Payload: payload}
	msg.SetDeadline(deadline)
	if len(md) > 0 {
		msg.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			msg.Metadata[k] = strings.Join(v, ",")
		}
	}
	return msg
}

// Response builds a successful response to method.
func Response(method string, payload []byte) *RPCMessage {
	return &RPCMessage{Method: method, Payload: payload}
}

// ErrorResponse builds a failed response carrying the status of err.
func ErrorResponse(method string, err error) *RPCMessage {
	st := rpc.StatusOf(err)
	return &RPCMessage{
		Method: method,
		Code:   uint32(st.Code()),
		Error:  st.Message(),
	}
}

// StatusResponse builds a failed response with the given code.
func StatusResponse(method string, code codes.Code, msg string) *RPCMessage {
	return &RPCMessage{Method: method, Code: uint32(code), Error: msg}
}
