package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"logstreamer/message"
	"logstreamer/rpc"
)

// Recovery turns a panicking handler into a codes.Internal response. A dispatch
// inconsistency is a construction defect and keeps panicking.
func Recovery(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if inconsistency, ok := r.(*rpc.DispatchInconsistencyError); ok {
					panic(inconsistency)
				}
				log.Error("Handler panicked", zap.String("method", req.Method), zap.Any("panic", r), zap.Stack("stack"))
				resp = message.StatusResponse(req.Method, codes.Internal, fmt.Sprintf("handler panicked: %v", r))
			}()
			return next(ctx, req)
		}
	}
}
