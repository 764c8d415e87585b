package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"logstreamer/message"
)

// Retry re-sends calls that failed with codes.Unavailable, waiting baseDelay * 2^attempt
// between attempts. It belongs on the client side: a server never sees Unavailable.
// Retrying stops as soon as ctx is done.
func Retry(maxRetries int, baseDelay time.Duration, log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries && codes.Code(resp.Code) == codes.Unavailable; i++ {
				log.Debug("Retrying call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.String("error", resp.Error))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return message.ErrorResponse(req.Method, ctx.Err())
				case <-timer.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
