package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ResponseSink receives the outcome of a call: a response or an error, never both.
type ResponseSink[T any] func(resp T, err error)

// startUnaryCall is the single call-issuing primitive behind every stub flavour. It
// delivers exactly one outcome to sink and returns a function cancelling the call.
//
// Completion sources race each other: the channel's listener, the deadline and the
// cancellation of ctx. The call state machine elects one of them, later ones are dropped.
func startUnaryCall[Req, Resp any](
	ctx context.Context,
	ch Channel,
	md *MethodDescriptor[Req, Resp],
	opts CallOptions,
	req Req,
	sink ResponseSink[Resp],
) func() {
	var (
		state     callStateMachine
		zero      Resp
		callCtx   context.Context
		cancelCtx context.CancelFunc
	)

	deadline, hasDeadline := opts.Deadline()
	if hasDeadline {
		callCtx, cancelCtx = context.WithDeadline(ctx, deadline)
	} else {
		callCtx, cancelCtx = context.WithCancel(ctx)
	}

	finish := func(resp Resp, err error) {
		if state.finish(err != nil) {
			cancelCtx()
			sink(resp, err)
		}
	}

	// An elapsed deadline never reaches the channel, so the receiver is not invoked.
	if hasDeadline && !time.Now().Before(deadline) {
		finish(zero, status.Errorf(codes.DeadlineExceeded, "deadline exceeded before %s started", md.FullMethodName()))
		return cancelCtx
	}
	if err := callCtx.Err(); err != nil {
		finish(zero, StatusOf(err).Err())
		return cancelCtx
	}

	payload, err := md.requestMarshaller.Marshal(req)
	if err != nil {
		finish(zero, status.Errorf(codes.Internal, "marshalling request: %v", err))
		return cancelCtx
	}

	if creds := opts.Credentials(); creds != nil {
		kv, err := creds.RequestMetadata(callCtx, md.FullMethodName())
		if err != nil {
			finish(zero, status.Errorf(codes.Unauthenticated, "obtaining credentials: %v", err))
			return cancelCtx
		}
		opts = opts.withMetadataMap(kv)
	}

	call := Intercept(ch, opts.Interceptors()...).NewCall(md, opts)
	state.start()

	go func() {
		<-callCtx.Done()
		if state.Load().Terminal() {
			return
		}
		call.Cancel()
		finish(zero, StatusOf(callCtx.Err()).Err())
	}()

	call.Start(callCtx, payload, func(respPayload []byte, err error) {
		if err != nil {
			finish(zero, StatusOf(err).Err())
			return
		}
		resp, err := md.responseMarshaller.Unmarshal(respPayload)
		if err != nil {
			finish(zero, status.Errorf(codes.Internal, "unmarshalling response: %v", err))
			return
		}
		finish(resp, nil)
	})

	return cancelCtx
}

// BlockingUnaryCall issues the call and waits for its outcome. Failures are status errors.
func BlockingUnaryCall[Req, Resp any](
	ctx context.Context,
	ch Channel,
	md *MethodDescriptor[Req, Resp],
	opts CallOptions,
	req Req,
) (Resp, error) {
	type result struct {
		resp Resp
		err  error
	}

	done := make(chan result, 1)
	startUnaryCall(ctx, ch, md, opts, req, func(resp Resp, err error) {
		done <- result{resp: resp, err: err}
	})
	r := <-done
	return r.resp, r.err
}

// AsyncUnaryCall issues the call and returns immediately. sink runs exactly once, on
// whichever goroutine observes the outcome.
func AsyncUnaryCall[Req, Resp any](
	ctx context.Context,
	ch Channel,
	md *MethodDescriptor[Req, Resp],
	opts CallOptions,
	req Req,
	sink ResponseSink[Resp],
) {
	startUnaryCall(ctx, ch, md, opts, req, sink)
}

// FutureUnaryCall issues the call and returns a future of its outcome.
func FutureUnaryCall[Req, Resp any](
	ctx context.Context,
	ch Channel,
	md *MethodDescriptor[Req, Resp],
	opts CallOptions,
	req Req,
) *Future[Resp] {
	f := newFuture[Resp]()
	f.cancel = startUnaryCall(ctx, ch, md, opts, req, func(resp Resp, err error) {
		f.complete(resp, err)
	})
	return f
}
