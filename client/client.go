// Package client implements the network rpc.Channel used by log streamer stubs.
//
// Call path:
//
//	stub → rpc.Channel.NewCall → clientCall.Start
//	  → middleware chain (retry, logging, ...) → roundTrip
//	    → resolve address (static or registry + balancer) → transport.Pool.Get
//	      → ClientTransport.Send → wait for the response or ctx (then Cancel frame)
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"logstreamer/codec"
	"logstreamer/loadbalance"
	"logstreamer/message"
	"logstreamer/middleware"
	"logstreamer/registry"
	"logstreamer/rpc"
	"logstreamer/transport"
)

// Config configures a Channel. Exactly one of Address and Registry must be set.
type Config struct {
	// Address is the static server address.
	Address string
	// Registry discovers servers, Balancer picks one per call.
	Registry registry.Registry
	Balancer loadbalance.Balancer

	Codec       codec.CodecType
	PoolSize    int // Multiplexed connections per server address
	DialTimeout time.Duration
	Heartbeat   time.Duration
	Middlewares []middleware.Middleware
	Log         *zap.Logger
}

// Channel sends calls to log streamer servers over TCP.
type Channel struct {
	config  Config
	handler middleware.HandlerFunc
	log     *zap.Logger

	ctx    context.Context // Lives until Close, bounds registry watches
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	pools     map[string]*transport.Pool              // addr → transports
	instances map[string]*[]registry.ServiceInstance // service → latest watched list
}

// New creates a channel. Connections are opened on first use.
func New(config Config) (*Channel, error) {
	if (config.Address == "") == (config.Registry == nil) {
		return nil, errors.New("exactly one of address and registry must be set")
	}
	if config.Registry != nil && config.Balancer == nil {
		config.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 1
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = transport.DefaultHeartbeatInterval
	}
	if config.Log == nil {
		config.Log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		config:    config,
		log:       config.Log,
		ctx:       ctx,
		cancel:    cancel,
		pools:     map[string]*transport.Pool{},
		instances: map[string]*[]registry.ServiceInstance{},
	}
	c.handler = middleware.Chain(config.Middlewares...)(c.roundTrip)
	return c, nil
}

// NewCall implements rpc.Channel.
func (c *Channel) NewCall(method rpc.Method, opts rpc.CallOptions) rpc.ClientCall {
	return &clientCall{channel: c, method: method, opts: opts}
}

// Close closes every connection and stops registry watches. Pending calls fail with
// codes.Unavailable.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	for addr, pool := range c.pools {
		_ = pool.Close()
		delete(c.pools, addr)
	}
	return nil
}

type callInfoKey struct{}

type callInfo struct {
	service     string
	routingKey  string
	compression string
}

// roundTrip is the innermost handler: one attempt against one server.
func (c *Channel) roundTrip(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	info, _ := ctx.Value(callInfoKey{}).(callInfo)

	addr, err := c.resolve(ctx, info)
	if err != nil {
		return message.ErrorResponse(req.Method, err)
	}
	pool, err := c.pool(addr)
	if err != nil {
		return message.ErrorResponse(req.Method, err)
	}
	t, err := pool.Get(ctx)
	if err != nil {
		return message.ErrorResponse(req.Method, err)
	}

	seq, respCh, err := t.Send(req, info.compression)
	if err != nil {
		return message.ErrorResponse(req.Method, err)
	}

	select {
	case resp := <-respCh:
		return resp
	case <-ctx.Done():
		t.Cancel(seq)
		return message.ErrorResponse(req.Method, ctx.Err())
	}
}

func (c *Channel) resolve(ctx context.Context, info callInfo) (string, error) {
	if c.config.Address != "" {
		return c.config.Address, nil
	}

	instances, err := c.discover(ctx, info.service)
	if err != nil {
		return "", err
	}
	instance, err := c.config.Balancer.Pick(info.routingKey, instances)
	if err != nil {
		return "", status.Errorf(codes.Unavailable, "%s: %v", info.service, err)
	}
	return instance.Addr, nil
}

// discover returns the instances of service. The first call starts a registry watch
// keeping a cached list current; until it delivers, the registry is queried directly.
func (c *Channel) discover(ctx context.Context, service string) ([]registry.ServiceInstance, error) {
	c.mu.Lock()
	cached, watching := c.instances[service]
	if !watching {
		if c.closed {
			c.mu.Unlock()
			return nil, transport.ErrClosed
		}
		c.instances[service] = nil
		go c.watch(service)
	}
	c.mu.Unlock()

	if cached != nil {
		return *cached, nil
	}

	instances, err := c.config.Registry.Discover(ctx, service)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "discovering %s: %v", service, err)
	}
	return instances, nil
}

func (c *Channel) watch(service string) {
	for instances := range c.config.Registry.Watch(c.ctx, service) {
		c.log.Debug("Instances updated", zap.String("service", service), zap.Int("count", len(instances)))

		c.mu.Lock()
		c.instances[service] = &instances
		c.mu.Unlock()
	}
}

func (c *Channel) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, transport.ErrClosed
	}
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewPool(c.config.PoolSize, transport.TCPDialer(
			addr,
			c.config.Codec,
			c.config.DialTimeout,
			transport.WithHeartbeat(c.config.Heartbeat),
			transport.WithLogger(c.log),
		))
		c.pools[addr] = pool
	}
	return pool, nil
}

// clientCall is one call on a Channel.
type clientCall struct {
	channel *Channel
	method  rpc.Method
	opts    rpc.CallOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   bool
}

// Start implements rpc.ClientCall. It returns immediately; listener runs on another
// goroutine.
func (cc *clientCall) Start(ctx context.Context, payload []byte, listener rpc.Listener) {
	ctx, cancel := context.WithCancel(ctx)

	cc.mu.Lock()
	if cc.done {
		cc.mu.Unlock()
		cancel()
		listener(nil, status.Error(codes.Canceled, "call cancelled before start"))
		return
	}
	cc.cancel = cancel
	cc.mu.Unlock()

	deadline, _ := ctx.Deadline()
	md := cc.opts.Metadata()
	if len(md.Get(message.RequestIDKey)) == 0 {
		md.Set(message.RequestIDKey, uuid.NewString())
	}
	req := message.NewRequest(cc.method.FullMethodName(), payload, deadline, md)

	ctx = context.WithValue(ctx, callInfoKey{}, callInfo{
		service:     cc.method.ServiceName(),
		routingKey:  cc.opts.RoutingKey(),
		compression: cc.opts.Compression(),
	})

	go func() {
		defer cancel()

		resp := cc.channel.handler(ctx, req)
		if err := resp.Err(); err != nil {
			listener(nil, err)
			return
		}
		listener(resp.Payload, nil)
	}()
}

// Cancel implements rpc.ClientCall.
func (cc *clientCall) Cancel() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.done = true
	if cc.cancel != nil {
		cc.cancel()
	}
}
