// Package inproc provides an rpc.Channel dispatching calls straight into a server.Server
// of the same process, skipping framing and the network. Deadlines, cancellation,
// metadata and the server middleware chain behave as they do over TCP.
package inproc

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"logstreamer/message"
	"logstreamer/rpc"
	"logstreamer/server"
)

// Channel is an in-process rpc.Channel.
type Channel struct {
	server *server.Server
}

// New returns a channel calling srv. srv does not have to be serving.
func New(srv *server.Server) *Channel {
	return &Channel{server: srv}
}

// NewCall implements rpc.Channel.
func (c *Channel) NewCall(method rpc.Method, opts rpc.CallOptions) rpc.ClientCall {
	return &call{server: c.server, method: method, opts: opts}
}

type call struct {
	server *server.Server
	method rpc.Method
	opts   rpc.CallOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   bool
}

func (c *call) Start(ctx context.Context, payload []byte, listener rpc.Listener) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		cancel()
		listener(nil, status.Error(codes.Canceled, "call cancelled before start"))
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	req := message.NewRequest(c.method.FullMethodName(), payload, deadline, c.opts.Metadata())

	go func() {
		defer cancel()

		resp := c.server.Handle(ctx, req)
		if err := resp.Err(); err != nil {
			listener(nil, err)
			return
		}
		listener(resp.Payload, nil)
	}()
}

func (c *call) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done = true
	if c.cancel != nil {
		c.cancel()
	}
}
