// Package transport also provides Pool, a fixed set of multiplexed transports to a single
// address.
//
// Every ClientTransport already multiplexes concurrent calls, so the pool hands out
// transports round-robin instead of lending them exclusively. Slots are dialled lazily and
// a slot whose connection died is redialled on its next use.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"logstreamer/codec"
)

// DialFunc opens a new transport.
type DialFunc func(ctx context.Context) (*ClientTransport, error)

// TCPDialer returns a DialFunc connecting to addr over TCP.
func TCPDialer(addr string, codecType codec.CodecType, timeout time.Duration, opts ...Option) DialFunc {
	return func(ctx context.Context) (*ClientTransport, error) {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "dialling %s: %v", addr, err)
		}
		return NewClientTransport(conn, codecType, opts...), nil
	}
}

// Pool manages up to size transports to one address.
type Pool struct {
	dial DialFunc
	next atomic.Uint64 // Round-robin cursor

	mu     sync.Mutex // Also serializes dialling, so concurrent callers don't race to fill one slot
	slots  []*ClientTransport
	closed bool
}

// NewPool creates an empty pool. Connections are created lazily.
func NewPool(size int, dial DialFunc) *Pool {
	return &Pool{
		dial:  dial,
		slots: make([]*ClientTransport, max(size, 1)),
	}
}

// Get returns the transport in the next slot, dialling it if the slot is empty or dead.
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	idx := (p.next.Add(1) - 1) % uint64(len(p.slots))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if t := p.slots[idx]; t != nil && !t.Closed() {
		return t, nil
	}

	t, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.slots[idx] = t
	return t, nil
}

// Close shuts down the pool and closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for i, t := range p.slots {
		if t != nil {
			_ = t.Close()
			p.slots[i] = nil
		}
	}
	return nil
}
