// Package receiver implements the LogStreamer service: accepted lines are queued and
// handed to a sink by Run.
package receiver

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"logstreamer/api"
	"logstreamer/rpc"
)

// Accepted is the Res value acknowledging a queued line.
const Accepted = "true"

// Sink consumes queued lines.
type Sink func(ctx context.Context, req *api.LogRequest) error

// Receiver queues incoming lines on a buffered channel. Log blocks while the queue is
// full, so the queue size bounds memory and slows down senders.
type Receiver struct {
	api.UnimplementedLogStreamerServer

	queue    chan *api.LogRequest
	received atomic.Uint64
	log      *zap.Logger
}

// New creates a receiver queueing up to buffer lines.
func New(buffer int, log *zap.Logger) *Receiver {
	return &Receiver{
		queue: make(chan *api.LogRequest, buffer),
		log:   log,
	}
}

// Log implements api.LogStreamerServer.
func (r *Receiver) Log(ctx context.Context, req *api.LogRequest) (*api.LogResponse, error) {
	select {
	case r.queue <- req:
		r.received.Add(1)
		return &api.LogResponse{Res: Accepted}, nil
	case <-ctx.Done():
		return nil, rpc.StatusOf(ctx.Err()).Err()
	}
}

// Count returns the number of lines accepted so far.
func (r *Receiver) Count() uint64 {
	return r.received.Load()
}

// Run hands queued lines to sink until ctx is done. Sink errors are logged and the line
// is dropped.
func (r *Receiver) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.queue:
			if err := sink(ctx, req); err != nil {
				r.log.Error("Sink failed",
					zap.String("path", req.GetPath()),
					zap.String("filename", req.GetFilename()),
					zap.Error(err))
			}
		}
	}
}

// LogSink writes every line to log.
func LogSink(log *zap.Logger) Sink {
	return func(_ context.Context, req *api.LogRequest) error {
		log.Info("Log line",
			zap.String("path", req.GetPath()),
			zap.String("filename", req.GetFilename()),
			zap.String("line", req.GetLine()))
		return nil
	}
}
