// Package middleware wraps message handlers with cross-cutting behaviour. The same onion
// model serves both sides: the server wraps its dispatcher, the client channel wraps its
// round trip.
package middleware

import (
	"context"

	"logstreamer/message"
)

// HandlerFunc processes one envelope and returns the outcome envelope.
type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(h) runs A first: A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
