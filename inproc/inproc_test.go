package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"logstreamer/api"
	"logstreamer/rpc"
	"logstreamer/server"
)

type handler struct {
	api.UnimplementedLogStreamerServer

	started   chan struct{}
	cancelled chan struct{}
}

func (h *handler) Log(ctx context.Context, req *api.LogRequest) (*api.LogResponse, error) {
	if req.GetLine() != "wait" {
		md, _ := metadata.FromIncomingContext(ctx)
		return &api.LogResponse{Res: req.GetLine() + ":" + lastValue(md, "x-tag")}, nil
	}
	close(h.started)
	<-ctx.Done()
	close(h.cancelled)
	return nil, ctx.Err()
}

func lastValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

func newChannel(t *testing.T, impl api.LogStreamerServer) *Channel {
	t.Helper()

	srv := server.NewServer()
	require.NoError(t, srv.Register(api.BindService(impl)))
	return New(srv)
}

func TestCall(t *testing.T) {
	requireT := require.New(t)

	stub := api.NewBlockingStub(newChannel(t, &handler{}))
	stub = stub.WithCallOptions(stub.CallOptions().WithMetadata("x-tag", "blue"))

	resp, err := stub.Log(context.Background(), &api.LogRequest{Line: "hello"})
	requireT.NoError(err)
	requireT.Equal("hello:blue", resp.GetRes())
}

func TestCancelReachesHandler(t *testing.T) {
	requireT := require.New(t)

	h := &handler{started: make(chan struct{}), cancelled: make(chan struct{})}
	f := api.NewFutureStub(newChannel(t, h)).Log(context.Background(), &api.LogRequest{Line: "wait"})

	<-h.started
	f.Cancel()

	_, err := f.Wait()
	requireT.Equal(codes.Canceled, status.Code(err))
	select {
	case <-h.cancelled:
	case <-time.After(time.Second):
		requireT.Fail("handler context was not cancelled")
	}
}

func TestCancelBeforeStart(t *testing.T) {
	requireT := require.New(t)

	call := newChannel(t, &handler{}).NewCall(api.MethodLog, rpc.DefaultCallOptions())
	call.Cancel()

	done := make(chan error, 1)
	call.Start(context.Background(), []byte(`{"line":"hello"}`), func(_ []byte, err error) {
		done <- err
	})
	requireT.Equal(codes.Canceled, status.Code(<-done))
}
