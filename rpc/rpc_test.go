package rpc

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// stringMarshaller sends strings as raw bytes; the string "bad" cannot be marshalled.
type stringMarshaller struct{}

func (stringMarshaller) Marshal(v string) ([]byte, error) {
	if v == "bad" {
		return nil, errors.New("unmarshallable")
	}
	return []byte(v), nil
}

func (stringMarshaller) Unmarshal(data []byte) (string, error) {
	if string(data) == "bad" {
		return "", errors.New("corrupted")
	}
	return string(data), nil
}

var testMethod = NewUnaryMethod[string, string]("test.Echo", "Length", stringMarshaller{}, stringMarshaller{})

func testDescriptor() *ServiceDescriptor {
	return NewServiceDescriptor("test.Echo", nil, testMethod)
}

func lengthHandler(_ context.Context, req string) (string, error) {
	return strconv.Itoa(len(req)), nil
}

// fakeChannel answers every call through handle on a separate goroutine, unless
// handle is nil in which case calls hang until cancelled.
type fakeChannel struct {
	handle func(ctx context.Context, payload []byte) ([]byte, error)

	newCalls  atomic.Int32
	starts    atomic.Int32
	cancels   atomic.Int32
	mu        sync.Mutex
	lastOpts  CallOptions
	lastCtxOK bool
}

func (c *fakeChannel) NewCall(_ Method, opts CallOptions) ClientCall {
	c.newCalls.Add(1)
	c.mu.Lock()
	c.lastOpts = opts
	c.mu.Unlock()
	return &fakeCall{channel: c}
}

func (c *fakeChannel) options() CallOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOpts
}

type fakeCall struct {
	channel *fakeChannel
}

func (fc *fakeCall) Start(ctx context.Context, payload []byte, listener Listener) {
	fc.channel.starts.Add(1)
	if fc.channel.handle == nil {
		return
	}
	go func() {
		listener(fc.channel.handle(ctx, payload))
	}()
}

func (fc *fakeCall) Cancel() {
	fc.channel.cancels.Add(1)
}

func echoLengthChannel() *fakeChannel {
	return &fakeChannel{handle: func(_ context.Context, payload []byte) ([]byte, error) {
		return []byte(strconv.Itoa(len(payload))), nil
	}}
}
