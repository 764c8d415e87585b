package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"logstreamer/message"
)

// Logging logs every call with its duration and outcome code.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("code", codes.Code(resp.Code)),
			}
			if id := req.Metadata[message.RequestIDKey]; id != "" {
				fields = append(fields, zap.String("requestID", id))
			}
			if resp.Error != "" {
				log.Warn("Call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				log.Debug("Call served", fields...)
			}
			return resp
		}
	}
}
