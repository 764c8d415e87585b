package middleware

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"logstreamer/rpc"
)

// ClientLogging is a call option interceptor logging each call's outcome on the client.
func ClientLogging(log *zap.Logger) rpc.ClientInterceptor {
	return func(method rpc.Method, opts rpc.CallOptions, next rpc.Channel) rpc.ClientCall {
		start := time.Now()
		return &rpc.ForwardingClientCall{
			Delegate: next.NewCall(method, opts),
			OnComplete: func(_ []byte, err error) {
				fields := []zap.Field{
					zap.String("method", method.FullMethodName()),
					zap.Duration("duration", time.Since(start)),
					zap.Stringer("code", status.Code(err)),
				}
				if err != nil {
					log.Warn("Call failed", append(fields, zap.Error(err))...)
					return
				}
				log.Debug("Call completed", fields...)
			},
		}
	}
}
