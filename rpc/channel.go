package rpc

import "context"

// Listener receives the terminal outcome of a ClientCall: the marshalled response or an
// error. A ClientCall invokes it at most once.
type Listener func(payload []byte, err error)

// ClientCall is one in-flight call created by a Channel.
type ClientCall interface {
	// Start sends the marshalled request. ctx carries the call deadline and cancellation.
	Start(ctx context.Context, payload []byte, listener Listener)
	// Cancel aborts the call. It is a no-op once the call has completed.
	Cancel()
}

// Channel creates calls to remote methods. It is the only thing stubs know about the
// transport.
type Channel interface {
	NewCall(method Method, opts CallOptions) ClientCall
}

// ClientInterceptor decorates call creation. It may inspect or change the options and
// wrap the returned ClientCall; it must eventually delegate to next.
type ClientInterceptor func(method Method, opts CallOptions, next Channel) ClientCall

// Intercept returns a channel running interceptors in order before reaching ch.
func Intercept(ch Channel, interceptors ...ClientInterceptor) Channel {
	for i := len(interceptors) - 1; i >= 0; i-- {
		ch = &interceptedChannel{next: ch, interceptor: interceptors[i]}
	}
	return ch
}

type interceptedChannel struct {
	next        Channel
	interceptor ClientInterceptor
}

func (c *interceptedChannel) NewCall(method Method, opts CallOptions) ClientCall {
	return c.interceptor(method, opts, c.next)
}

// ForwardingClientCall delegates to Delegate and lets a wrapper observe the outcome.
type ForwardingClientCall struct {
	Delegate ClientCall
	// OnComplete, if set, runs before the original listener.
	OnComplete func(payload []byte, err error)
}

// Start implements ClientCall.
func (c *ForwardingClientCall) Start(ctx context.Context, payload []byte, listener Listener) {
	c.Delegate.Start(ctx, payload, func(resp []byte, err error) {
		if c.OnComplete != nil {
			c.OnComplete(resp, err)
		}
		listener(resp, err)
	})
}

// Cancel implements ClientCall.
func (c *ForwardingClientCall) Cancel() {
	c.Delegate.Cancel()
}
