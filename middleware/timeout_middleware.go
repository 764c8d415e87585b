package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"

	"logstreamer/message"
)

// Timeout bounds every call by timeout, on top of any deadline the caller sent. The
// handler keeps running in the background after the timeout, its ctx is cancelled.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.StatusResponse(req.Method, codes.DeadlineExceeded, "request timed out")
			}
		}
	}
}
