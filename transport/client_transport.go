// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads responses and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
//
// A caller that gives up (deadline, cancellation) calls Cancel(seq): the pending entry is
// dropped and a Cancel frame tells the server to stop working on the request.
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"logstreamer/codec"
	"logstreamer/message"
	"logstreamer/protocol"
)

// DefaultHeartbeatInterval is the period of heartbeat frames.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = status.Error(codes.Unavailable, "transport is closed")

// Option configures a ClientTransport.
type Option func(*ClientTransport)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(t *ClientTransport) {
		t.heartbeat = interval
	}
}

// WithLogger sets the logger, zap.NewNop() by default.
func WithLogger(log *zap.Logger) Option {
	return func(t *ClientTransport) {
		t.log = log
	}
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn      net.Conn        // Underlying TCP connection
	codec     codec.CodecType // Serialization format for this transport
	seq       uint32          // Monotonically increasing sequence number (protected by sending mutex)
	pending   sync.Map        // map[uint32]chan *message.RPCMessage, each request waits on its own channel
	sending   sync.Mutex      // Write lock, frames of concurrent requests must not interleave
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{} // Closed by Close, stops the heartbeat
	heartbeat time.Duration
	log       *zap.Logger
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     codecType,
		done:      make(chan struct{}),
		heartbeat: DefaultHeartbeatInterval,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	go t.heartbeatLoop(t.heartbeat)
	return t
}

// Send encodes msg and writes it as a request frame, compressed with the named compressor
// when compression is not empty. It returns the sequence number and a channel receiving
// exactly one response.
func (t *ClientTransport) Send(msg *message.RPCMessage, compression string) (uint32, <-chan *message.RPCMessage, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}

	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return 0, nil, err
	}
	body, err = codec.Compress(compression, body)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
	}
	if compression != "" {
		header.Flags |= protocol.FlagZstd
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	header.Seq = t.seq

	// Register a response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan *message.RPCMessage, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(header.Seq, respChan)

	// closeAllPending may have run between the check above and Store.
	if t.closed.Load() {
		if _, ok := t.pending.LoadAndDelete(header.Seq); ok {
			return 0, nil, ErrClosed
		}
		return header.Seq, respChan, nil
	}

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(header.Seq)
		return 0, nil, status.Errorf(codes.Unavailable, "writing request: %v", err)
	}

	return header.Seq, respChan, nil
}

// Cancel abandons the request with sequence number seq. Its channel will not receive
// anything, the server is told to cancel the handler.
func (t *ClientTransport) Cancel(seq uint32) {
	if _, ok := t.pending.LoadAndDelete(seq); !ok {
		return
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeCancel, Seq: seq}, nil); err != nil {
		t.log.Debug("Failed to send cancel frame", zap.Uint32("seq", seq), zap.Error(err))
	}
}

// Close closes the connection. Pending callers receive codes.Unavailable.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.conn.Close()
	})
	return errors.WithStack(err)
}

// Closed reports whether the connection is gone.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// For each response, it looks up the sequence number in the pending map, finds the caller's
// channel, and sends the response. Responses can arrive in any order, and each one is routed
// to the correct waiting goroutine.
//
// TCP is a byte stream, so reads must be sequential to correctly parse frame boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken, notify all pending callers
			t.closed.Store(true)
			t.closeAllPending(err)
			_ = t.Close()
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		channel, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			// Cancelled by the caller.
			continue
		}
		channel.(chan *message.RPCMessage) <- t.decodeResponse(header, body)
	}
}

func (t *ClientTransport) decodeResponse(header *protocol.Header, body []byte) *message.RPCMessage {
	compression := ""
	if header.Compressed() {
		compression = codec.CompressionZstd
	}
	data, err := codec.Decompress(compression, body)
	if err != nil {
		return message.StatusResponse("", codes.Internal, "decompressing response: "+err.Error())
	}

	resp := message.RPCMessage{}
	if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(data, &resp); err != nil {
		return message.StatusResponse("", codes.Internal, "decoding response: "+err.Error())
	}
	return &resp
}

// closeAllPending is called when the connection breaks. It sends an error message
// to every pending caller so they don't block forever waiting for a response.
func (t *ClientTransport) closeAllPending(err error) {
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- message.StatusResponse("", codes.Unavailable, "connection lost: "+err.Error())
		}
		return true
	})
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have MsgType=Heartbeat and no body, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		t.sending.Unlock()
		if err != nil {
			return // Connection broken, exit heartbeat loop
		}
	}
}
