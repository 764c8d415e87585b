// Package server implements the log streamer server: service registration, middleware
// chain, parallel request processing, deadline and cancel propagation, graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → Request: go handleRequest (parallel processing)
//	    → Decompress → Codec.Decode → Handle (deadline, metadata)
//	      → Middleware Chain → businessHandler (ServiceDefinition.Invoke) → Codec.Encode → write response
//	  → Cancel: cancel the ctx of the in-flight request with the same Seq
package server

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"logstreamer/codec"
	"logstreamer/message"
	"logstreamer/middleware"
	"logstreamer/protocol"
	"logstreamer/registry"
	"logstreamer/rpc"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger, zap.NewNop() by default.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithInstance sets the weight and version advertised in the registry.
func WithInstance(weight int, version string) Option {
	return func(s *Server) {
		s.weight = weight
		s.version = version
	}
}

// WithRegistryTTL sets the lease TTL in seconds used when registering.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) {
		s.ttl = ttl
	}
}

// Server dispatches incoming calls to registered service definitions.
type Server struct {
	services      map[string]*rpc.ServiceDefinition // "api.LogStreamer" → binding table
	listener      net.Listener
	wg            sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool    // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware
	handlerOnce   sync.Once
	handler       middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	registry      registry.Registry      // nil if not using discovery
	advertiseAddr string                 // Routable address registered in the registry
	instanceID    string
	weight        int
	version       string
	ttl           int64
	log           *zap.Logger

	connMu sync.Mutex // Guards conns and the fields set by Serve
	conns  map[net.Conn]struct{}
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		services:   map[string]*rpc.ServiceDefinition{},
		instanceID: uuid.NewString(),
		weight:     1,
		ttl:        10,
		log:        zap.NewNop(),
		conns:      map[net.Conn]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a binding table. Must be called before serving.
func (svr *Server) Register(def *rpc.ServiceDefinition) error {
	if _, exists := svr.services[def.Name()]; exists {
		return errors.Errorf("service %s already registered", def.Name())
	}
	svr.services[def.Name()] = def
	return nil
}

// Use registers a middleware. Middlewares run in the order they are added and must be
// registered before serving.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ListenAndServe listens on address and serves.
func (svr *Server) ListenAndServe(ctx context.Context, network, address, advertiseAddr string, reg registry.Registry) error {
	lis, err := net.Listen(network, address)
	if err != nil {
		return errors.WithStack(err)
	}
	return svr.Serve(ctx, lis, advertiseAddr, reg)
}

// Serve accepts connections on lis until Shutdown.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" is not routable.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(ctx context.Context, lis net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.buildHandler()

	svr.connMu.Lock()
	svr.listener = lis
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.connMu.Unlock()

	if reg != nil {
		for _, name := range lo.Keys(svr.services) {
			err := reg.Register(ctx, name, registry.ServiceInstance{
				ID:      svr.instanceID,
				Addr:    advertiseAddr,
				Weight:  svr.weight,
				Version: svr.version,
			}, svr.ttl)
			if err != nil {
				return errors.Wrapf(err, "registering service %s", name)
			}
		}
	}

	svr.log.Info("Server started", zap.Stringer("addr", lis.Addr()), zap.Strings("services", lo.Keys(svr.services)))

	for {
		conn, err := lis.Accept()
		if err != nil {
			// Shutdown closes the listener; distinguish that from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return errors.WithStack(err)
		}
		svr.trackConn(conn, true)
		go svr.handleConn(ctx, conn)
	}
}

// Addr returns the listener address, nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.connMu.Lock()
	defer svr.connMu.Unlock()

	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) buildHandler() {
	svr.handlerOnce.Do(func() {
		// Chain(A, B, C)(handler) → A(B(C(handler)))
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	})
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.connMu.Lock()
	defer svr.connMu.Unlock()

	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn runs the read loop of one connection. Reads are sequential to keep frame
// boundaries intact; each request is processed in its own goroutine. writeMu keeps
// concurrent responses from interleaving on the connection.
func (svr *Server) handleConn(ctx context.Context, conn net.Conn) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer func() {
		// Client is gone, handlers still running for it are cancelled.
		cancelConn()
		svr.trackConn(conn, false)
		_ = conn.Close()
	}()

	writeMu := &sync.Mutex{}
	var inflight sync.Map // map[uint32]context.CancelFunc
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !svr.shutdown.Load() {
				svr.log.Debug("Connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
		case protocol.MsgTypeCancel:
			if cancel, ok := inflight.LoadAndDelete(header.Seq); ok {
				cancel.(context.CancelFunc)()
			}
		case protocol.MsgTypeRequest:
			reqCtx, cancel := context.WithCancel(connCtx)
			inflight.Store(header.Seq, cancel)
			svr.wg.Add(1)
			go func() {
				defer svr.wg.Done()
				defer func() {
					inflight.Delete(header.Seq)
					cancel()
				}()
				svr.handleRequest(reqCtx, header, body, conn, writeMu)
			}()
		default:
			svr.log.Warn("Unexpected frame", zap.Uint8("msgType", uint8(header.MsgType)))
		}
	}
}

// handleRequest decodes one request, runs it and writes the response with the same Seq,
// codec and compression as the request.
func (svr *Server) handleRequest(ctx context.Context, header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	compression := ""
	if header.Compressed() {
		compression = codec.CompressionZstd
	}

	var resp *message.RPCMessage
	req := message.RPCMessage{}
	data, err := codec.Decompress(compression, body)
	if err == nil {
		err = c.Decode(data, &req)
	}
	if err != nil {
		resp = message.StatusResponse(req.Method, codes.InvalidArgument, "malformed request: "+err.Error())
	} else {
		resp = svr.Handle(ctx, &req)
	}

	// Every request gets a response frame, otherwise the caller waits forever.
	result, err := encodeResponse(c, compression, resp)
	if err != nil {
		svr.log.Error("Failed to encode response", zap.String("method", req.Method), zap.Error(err))
		result, err = encodeResponse(c, compression,
			message.StatusResponse(req.Method, codes.Internal, "response could not be encoded"))
		if err != nil {
			svr.log.Error("Failed to encode fallback response", zap.String("method", req.Method), zap.Error(err))
			return
		}
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Flags:     header.Flags & protocol.FlagZstd,
		Seq:       header.Seq,
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.log.Debug("Failed to write response", zap.String("method", req.Method), zap.Error(err))
	}
}

// maxErrorLen bounds the status message sent back, longer messages are truncated.
const maxErrorLen = 4096

// encodeResponse encodes and compresses resp, failing when the result does not fit a frame.
func encodeResponse(c codec.Codec, compression string, resp *message.RPCMessage) ([]byte, error) {
	if len(resp.Error) > maxErrorLen {
		truncated := *resp
		truncated.Error = strings.ToValidUTF8(resp.Error[:maxErrorLen], "") + "...(truncated)"
		resp = &truncated
	}

	result, err := c.Encode(resp)
	if err != nil {
		return nil, err
	}
	result, err = codec.Compress(compression, result)
	if err != nil {
		return nil, err
	}
	if uint64(len(result)) > uint64(protocol.MaxBodyLen) {
		return nil, errors.Errorf("response body of %d bytes exceeds %d", len(result), protocol.MaxBodyLen)
	}
	return result, nil
}

// Handle runs one decoded request through the middleware chain. The request deadline
// bounds ctx; an already-elapsed deadline fails without invoking the service. Incoming
// metadata is available via metadata.FromIncomingContext.
func (svr *Server) Handle(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	svr.buildHandler()

	if deadline, ok := req.DeadlineTime(); ok {
		if !time.Now().Before(deadline) {
			return message.StatusResponse(req.Method, codes.DeadlineExceeded, "deadline exceeded before dispatch")
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if len(req.Metadata) > 0 {
		ctx = metadata.NewIncomingContext(ctx, metadata.New(req.Metadata))
	}

	return svr.handler(ctx, req)
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svr.connMu.Lock()
	lis, reg, advertiseAddr := svr.listener, svr.registry, svr.advertiseAddr
	svr.connMu.Unlock()

	if reg != nil {
		for _, name := range lo.Keys(svr.services) {
			if err := reg.Deregister(ctx, name, advertiseAddr); err != nil {
				svr.log.Warn("Deregistration failed", zap.String("service", name), zap.Error(err))
			}
		}
	}

	svr.shutdown.Store(true)
	if lis != nil {
		_ = lis.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	svr.connMu.Lock()
	for conn := range svr.conns {
		_ = conn.Close()
	}
	svr.connMu.Unlock()

	return err
}

// businessHandler dispatches to the binding table of the addressed service. Output the
// service produces after ctx is done (deadline, cancel frame, client gone) is discarded.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, _, ok := rpc.SplitFullMethodName(req.Method)
	if !ok {
		return message.StatusResponse(req.Method, codes.Unimplemented, "malformed method name "+req.Method)
	}
	def, ok := svr.services[serviceName]
	if !ok {
		return message.StatusResponse(req.Method, codes.Unimplemented, "unknown service "+serviceName)
	}

	payload, err := def.Invoke(ctx, req.Method, req.Payload)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return message.ErrorResponse(req.Method, ctxErr)
	}
	if err != nil {
		return message.ErrorResponse(req.Method, err)
	}
	return message.Response(req.Method, payload)
}
