package api

import (
	"context"
	"time"

	"logstreamer/rpc"
)

// LogStreamerStub delivers outcomes to a callback.
type LogStreamerStub struct {
	base rpc.Stub
}

// NewStub creates a callback stub with default call options.
func NewStub(ch rpc.Channel) LogStreamerStub {
	return LogStreamerStub{base: rpc.NewStub(ch)}
}

// CallOptions returns the options applied to each call.
func (s LogStreamerStub) CallOptions() rpc.CallOptions { return s.base.CallOptions() }

// WithCallOptions returns a stub using opts.
func (s LogStreamerStub) WithCallOptions(opts rpc.CallOptions) LogStreamerStub {
	return LogStreamerStub{base: s.base.WithCallOptions(opts)}
}

// WithDeadline returns a stub whose calls expire at deadline.
func (s LogStreamerStub) WithDeadline(deadline time.Time) LogStreamerStub {
	return s.WithCallOptions(s.CallOptions().WithDeadline(deadline))
}

// WithDeadlineAfter returns a stub whose calls expire d from now.
func (s LogStreamerStub) WithDeadlineAfter(d time.Duration) LogStreamerStub {
	return s.WithCallOptions(s.CallOptions().WithDeadlineAfter(d))
}

// Log sends req and returns immediately. sink receives the response or the failure once.
func (s LogStreamerStub) Log(ctx context.Context, req *LogRequest, sink rpc.ResponseSink[*LogResponse]) {
	rpc.AsyncUnaryCall(ctx, s.base.Channel(), MethodLog, s.base.CallOptions(), req, sink)
}

// LogStreamerBlockingStub waits for each outcome.
type LogStreamerBlockingStub struct {
	base rpc.Stub
}

// NewBlockingStub creates a blocking stub with default call options.
func NewBlockingStub(ch rpc.Channel) LogStreamerBlockingStub {
	return LogStreamerBlockingStub{base: rpc.NewStub(ch)}
}

// CallOptions returns the options applied to each call.
func (s LogStreamerBlockingStub) CallOptions() rpc.CallOptions { return s.base.CallOptions() }

// WithCallOptions returns a stub using opts.
func (s LogStreamerBlockingStub) WithCallOptions(opts rpc.CallOptions) LogStreamerBlockingStub {
	return LogStreamerBlockingStub{base: s.base.WithCallOptions(opts)}
}

// WithDeadline returns a stub whose calls expire at deadline.
func (s LogStreamerBlockingStub) WithDeadline(deadline time.Time) LogStreamerBlockingStub {
	return s.WithCallOptions(s.CallOptions().WithDeadline(deadline))
}

// WithDeadlineAfter returns a stub whose calls expire d from now.
func (s LogStreamerBlockingStub) WithDeadlineAfter(d time.Duration) LogStreamerBlockingStub {
	return s.WithCallOptions(s.CallOptions().WithDeadlineAfter(d))
}

// Log sends req and waits. The error, if any, is a status error.
func (s LogStreamerBlockingStub) Log(ctx context.Context, req *LogRequest) (*LogResponse, error) {
	return rpc.BlockingUnaryCall(ctx, s.base.Channel(), MethodLog, s.base.CallOptions(), req)
}

// LogStreamerFutureStub returns futures.
type LogStreamerFutureStub struct {
	base rpc.Stub
}

// NewFutureStub creates a future stub with default call options.
func NewFutureStub(ch rpc.Channel) LogStreamerFutureStub {
	return LogStreamerFutureStub{base: rpc.NewStub(ch)}
}

// CallOptions returns the options applied to each call.
func (s LogStreamerFutureStub) CallOptions() rpc.CallOptions { return s.base.CallOptions() }

// WithCallOptions returns a stub using opts.
func (s LogStreamerFutureStub) WithCallOptions(opts rpc.CallOptions) LogStreamerFutureStub {
	return LogStreamerFutureStub{base: s.base.WithCallOptions(opts)}
}

// WithDeadline returns a stub whose calls expire at deadline.
func (s LogStreamerFutureStub) WithDeadline(deadline time.Time) LogStreamerFutureStub {
	return s.WithCallOptions(s.CallOptions().WithDeadline(deadline))
}

// WithDeadlineAfter returns a stub whose calls expire d from now.
func (s LogStreamerFutureStub) WithDeadlineAfter(d time.Duration) LogStreamerFutureStub {
	return s.WithCallOptions(s.CallOptions().WithDeadlineAfter(d))
}

// Log sends req and returns a future of the response.
func (s LogStreamerFutureStub) Log(ctx context.Context, req *LogRequest) *rpc.Future[*LogResponse] {
	return rpc.FutureUnaryCall(ctx, s.base.Channel(), MethodLog, s.base.CallOptions(), req)
}
