package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"logstreamer/message"
)

// RateLimit rejects calls above r per second (token bucket of size burst) with
// codes.ResourceExhausted.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.StatusResponse(req.Method, codes.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
