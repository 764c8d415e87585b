package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCallStateMachine(t *testing.T) {
	requireT := require.New(t)

	var m callStateMachine
	requireT.Equal(CallCreated, m.Load())
	requireT.False(m.finish(false), "completion requires IN_FLIGHT")
	requireT.True(m.start())
	requireT.False(m.start())
	requireT.Equal(CallInFlight, m.Load())
	requireT.True(m.finish(false))
	requireT.Equal(CallCompleted, m.Load())
	requireT.False(m.finish(true))
	requireT.Equal(CallCompleted, m.Load())

	var failed callStateMachine
	requireT.True(failed.finish(true), "a call may fail before it is in flight")
	requireT.Equal(CallFailed, failed.Load())
	requireT.False(failed.start())
	requireT.True(failed.Load().Terminal())
	requireT.Equal("FAILED", failed.Load().String())
	requireT.Equal("CallState(9)", CallState(9).String())
}

func TestCallStateMachineSingleWinner(t *testing.T) {
	var m callStateMachine
	m.start()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.finish(i%2 == 0) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, winners.Load())
	require.True(t, m.Load().Terminal())
}

func TestFutureCompletesOnce(t *testing.T) {
	requireT := require.New(t)

	f := newFuture[string]()
	requireT.False(f.IsDone())
	requireT.True(f.complete("first", nil))
	requireT.False(f.complete("", status.Error(codes.Internal, "second")))

	v, err := f.Wait()
	requireT.NoError(err)
	requireT.Equal("first", v)

	// Cancel without a call attached is a no-op.
	f.Cancel()
}

func TestStatusOf(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(codes.OK, StatusOf(nil).Code())
	requireT.Equal(codes.NotFound, StatusOf(status.Error(codes.NotFound, "x")).Code())
	requireT.Equal(codes.Internal, StatusOf(errors.New("boom")).Code())
	requireT.Equal(codes.Canceled, StatusOf(errors.WithStack(context.Canceled)).Code())
	requireT.Equal(codes.DeadlineExceeded, StatusOf(context.DeadlineExceeded).Code())
}
