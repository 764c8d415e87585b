package main

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/outofforest/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"logstreamer/api"
	"logstreamer/config"
	"logstreamer/receiver"
)

func startReceiver(t *testing.T, cfg config.Config) (string, *receiver.Receiver) {
	t.Helper()

	rcv := receiver.New(100, zap.NewNop())
	srv := newServer(cfg, zap.NewNop())
	require.NoError(t, srv.Register(api.BindService(rcv)))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.Serve(context.Background(), lis, lis.Addr().String(), nil)
	}()
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })
	return lis.Addr().String(), rcv
}

func newTestContext() context.Context {
	return logger.WithLogger(context.Background(), zap.NewNop())
}

func TestSendModes(t *testing.T) {
	requireT := require.New(t)

	cfg := config.Default()
	addr, rcv := startReceiver(t, cfg)
	cfg.Client.Address = addr
	cfg.Client.Compression = "zstd"

	lines := []string{"first", "second", "third"}
	for i, mode := range []string{modeBlocking, modeAsync, modeFuture, modeLogger} {
		err := send(newTestContext(), cfg, sendOptions{mode: mode, path: "/var/log", filename: "app.log"}, lines)
		requireT.NoError(err, mode)
		requireT.EqualValues(len(lines)*(i+1), rcv.Count(), mode)
	}

	err := send(newTestContext(), cfg, sendOptions{mode: "batch"}, lines)
	requireT.ErrorContains(err, "batch")
}

func TestSendAuthentication(t *testing.T) {
	requireT := require.New(t)

	cfg := config.Default()
	cfg.Tokens = []string{"secret"}
	addr, rcv := startReceiver(t, cfg)
	cfg.Client.Address = addr

	err := send(newTestContext(), cfg, sendOptions{mode: modeBlocking}, []string{"line"})
	requireT.Equal(codes.Unauthenticated, status.Code(err))
	requireT.Zero(rcv.Count())

	// Lines zap failed to ship fail the logger mode too.
	err = send(newTestContext(), cfg, sendOptions{mode: modeLogger}, []string{"line"})
	requireT.Equal(codes.Unauthenticated, status.Code(err))
	requireT.Zero(rcv.Count())

	cfg.Token = "secret"
	requireT.NoError(send(newTestContext(), cfg, sendOptions{mode: modeBlocking}, []string{"line"}))
	requireT.EqualValues(1, rcv.Count())
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("a\nb\n\nc"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "", "c"}, lines)
}

func TestReportStatus(t *testing.T) {
	requireT := require.New(t)

	rcv := receiver.New(10, zap.NewNop())
	_, err := rcv.Log(context.Background(), &api.LogRequest{Line: "hello"})
	requireT.NoError(err)

	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = reportStatus(ctx, 10*time.Millisecond, rcv, zap.New(core))
	requireT.ErrorIs(err, context.DeadlineExceeded)

	entries := logs.FilterMessage("Status").All()
	requireT.NotEmpty(entries)
	requireT.EqualValues(1, entries[0].ContextMap()["received"])
}
