package message

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestResponseErr(t *testing.T) {
	requireT := require.New(t)

	requireT.NoError(Response("/api.LogStreamer/Log", []byte(`{"res":"true"}`)).Err())

	err := StatusResponse("/api.LogStreamer/Log", codes.Unimplemented, "not implemented").Err()
	requireT.Equal(codes.Unimplemented, status.Code(err))
	requireT.Equal("not implemented", status.Convert(err).Message())
}

func TestErrorResponse(t *testing.T) {
	requireT := require.New(t)

	msg := ErrorResponse("/api.LogStreamer/Log", status.Error(codes.PermissionDenied, "nope"))
	requireT.Equal(uint32(codes.PermissionDenied), msg.Code)
	requireT.Equal("nope", msg.Error)

	msg = ErrorResponse("/api.LogStreamer/Log", errors.New("disk full"))
	requireT.Equal(uint32(codes.Internal), msg.Code)
	requireT.Equal("disk full", msg.Error)

	msg = ErrorResponse("/api.LogStreamer/Log", context.DeadlineExceeded)
	requireT.Equal(uint32(codes.DeadlineExceeded), msg.Code)
}

func TestDeadline(t *testing.T) {
	requireT := require.New(t)

	msg := &RPCMessage{}
	_, ok := msg.DeadlineTime()
	requireT.False(ok)

	deadline := time.Unix(1700000000, 123)
	msg.SetDeadline(deadline)
	got, ok := msg.DeadlineTime()
	requireT.True(ok)
	requireT.True(deadline.Equal(got))

	msg.SetDeadline(time.Time{})
	requireT.Zero(msg.Deadline)
}

func TestNewRequest(t *testing.T) {
	requireT := require.New(t)

	deadline := time.Unix(1700000000, 0)
	md := metadata.Pairs("authorization", "Bearer t", "x-tag", "a", "x-tag", "b")
	msg := NewRequest("/api.LogStreamer/Log", []byte("{}"), deadline, md)

	requireT.Equal("/api.LogStreamer/Log", msg.Method)
	requireT.Equal([]byte("{}"), msg.Payload)
	requireT.Equal(map[string]string{"authorization": "Bearer t", "x-tag": "a,b"}, msg.Metadata)
	d, ok := msg.DeadlineTime()
	requireT.True(ok)
	requireT.True(deadline.Equal(d))

	msg = NewRequest("/api.LogStreamer/Log", nil, time.Time{}, nil)
	requireT.Nil(msg.Metadata)
	_, ok = msg.DeadlineTime()
	requireT.False(ok)
}
