package rpc

import (
	"context"

	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerCallHandler handles one call given the marshalled request and returns the
// marshalled response.
type ServerCallHandler func(ctx context.Context, payload []byte) ([]byte, error)

// ServerMethodDefinition pairs a method with its handler.
type ServerMethodDefinition struct {
	method  Method
	handler ServerCallHandler
}

// UnaryMethod binds a typed unary handler to md. The returned handler unmarshals into Req,
// calls handle and marshals Resp with md's marshallers, so dispatch needs no type checks.
func UnaryMethod[Req, Resp any](
	md *MethodDescriptor[Req, Resp],
	handle func(ctx context.Context, req Req) (Resp, error),
) ServerMethodDefinition {
	return ServerMethodDefinition{
		method: md,
		handler: func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := md.requestMarshaller.Unmarshal(payload)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "unmarshalling request: %v", err)
			}
			resp, err := handle(ctx, req)
			if err != nil {
				return nil, err
			}
			out, err := md.responseMarshaller.Marshal(resp)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "marshalling response: %v", err)
			}
			return out, nil
		},
	}
}

// UnimplementedUnaryCall is the failure returned by methods a receiver does not override.
func UnimplementedUnaryCall(method Method) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method.FullMethodName())
}

// ServiceDefinition is the immutable binding table of a service: every method of the
// descriptor mapped to its handler.
type ServiceDefinition struct {
	descriptor *ServiceDescriptor
	handlers   map[string]ServerCallHandler
}

// ServiceDefinitionBuilder collects handlers for a descriptor.
type ServiceDefinitionBuilder struct {
	descriptor *ServiceDescriptor
	methods    []ServerMethodDefinition
}

// NewServiceDefinition starts a binding table for d.
func NewServiceDefinition(d *ServiceDescriptor) *ServiceDefinitionBuilder {
	return &ServiceDefinitionBuilder{descriptor: d}
}

// AddMethod binds one method.
func (b *ServiceDefinitionBuilder) AddMethod(m ServerMethodDefinition) *ServiceDefinitionBuilder {
	b.methods = append(b.methods, m)
	return b
}

// Build validates the table against the descriptor. A handler for a foreign or
// mistyped method, a duplicate, or a descriptor method left unbound panics with
// *DispatchInconsistencyError.
func (b *ServiceDefinitionBuilder) Build() *ServiceDefinition {
	handlers := make(map[string]ServerCallHandler, len(b.methods))
	for _, m := range b.methods {
		declared, ok := b.descriptor.Method(m.method.FullMethodName())
		if !ok {
			panic(b.inconsistency(m.method, "method is not part of the service descriptor"))
		}
		if !sameShape(declared, m.method) {
			panic(b.inconsistency(m.method, "handler disagrees with descriptor on call shape or message types"))
		}
		if _, exists := handlers[m.method.FullMethodName()]; exists {
			panic(b.inconsistency(m.method, "method bound twice"))
		}
		handlers[m.method.FullMethodName()] = m.handler
	}
	for _, m := range b.descriptor.methods {
		if _, ok := handlers[m.FullMethodName()]; !ok {
			panic(b.inconsistency(m, "method has no handler"))
		}
	}
	return &ServiceDefinition{descriptor: b.descriptor, handlers: handlers}
}

func (b *ServiceDefinitionBuilder) inconsistency(m Method, reason string) *DispatchInconsistencyError {
	return &DispatchInconsistencyError{Service: b.descriptor.Name(), Method: m.MethodName(), Reason: reason}
}

func sameShape(a, b Method) bool {
	return a.Type() == b.Type() &&
		a.RequestType() == b.RequestType() &&
		a.ResponseType() == b.ResponseType()
}

// Descriptor returns the service descriptor the table was built for.
func (d *ServiceDefinition) Descriptor() *ServiceDescriptor {
	return d.descriptor
}

// Name returns the service name.
func (d *ServiceDefinition) Name() string {
	return d.descriptor.Name()
}

// FullMethodNames lists the bound methods.
func (d *ServiceDefinition) FullMethodNames() []string {
	return lo.Map(d.descriptor.methods, func(m Method, _ int) string {
		return m.FullMethodName()
	})
}

// Invoke dispatches a call by full method name. Unknown methods fail the call with
// codes.Unimplemented. A descriptor method missing from the table panics: Build makes that
// impossible, so reaching it means the table was corrupted.
func (d *ServiceDefinition) Invoke(ctx context.Context, fullMethodName string, payload []byte) ([]byte, error) {
	m, ok := d.descriptor.Method(fullMethodName)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", fullMethodName)
	}
	handler, ok := d.handlers[fullMethodName]
	if !ok {
		panic(&DispatchInconsistencyError{Service: d.descriptor.Name(), Method: m.MethodName(), Reason: "method has no handler"})
	}
	return handler(ctx, payload)
}
