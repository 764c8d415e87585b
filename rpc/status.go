package rpc

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusOf maps err onto the status reported to the caller.
// Status errors keep their code, context errors map to DeadlineExceeded/Canceled and
// anything else becomes Internal.
func StatusOf(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err)
	}
	return status.New(codes.Internal, err.Error())
}

// DispatchInconsistencyError is the panic value raised when a binding table does not
// match its service descriptor. It signals a construction defect, never a per-call failure.
type DispatchInconsistencyError struct {
	Service string
	Method  string
	Reason  string
}

func (e *DispatchInconsistencyError) Error() string {
	return fmt.Sprintf("rpc: dispatch inconsistency in %s/%s: %s", e.Service, e.Method, e.Reason)
}
