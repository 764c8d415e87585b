package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc/codes"

	"logstreamer/message"
	"logstreamer/rpc"
)

// Auth accepts only calls carrying one of tokens as a bearer authorization, others fail
// with codes.Unauthenticated. An empty token list disables the check.
func Auth(tokens ...string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if len(tokens) == 0 {
			return next
		}
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			token, ok := strings.CutPrefix(req.Metadata[rpc.AuthorizationKey], "Bearer ")
			if !ok || !validToken(token, tokens) {
				return message.StatusResponse(req.Method, codes.Unauthenticated, "missing or invalid token")
			}
			return next(ctx, req)
		}
	}
}

func validToken(token string, tokens []string) bool {
	valid := false
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			valid = true
		}
	}
	return valid
}
