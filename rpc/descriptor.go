// Package rpc holds the service contract machinery shared by every log streamer service:
// method and service descriptors, call options, the channel abstraction, the client call
// primitives behind blocking, callback and future stubs, and the server-side binding table.
//
//	stub ──► startUnaryCall ──► Channel.NewCall ──► ClientCall.Start ─ ─ ─► server
//	  ▲                                                  │
//	  └──────── ResponseSink / Future / return ◄─────────┘ (exactly one outcome)
//
// The package knows nothing about the wire. Channels (client.Channel, inproc.Channel)
// move opaque payloads produced by the descriptor's marshallers.
package rpc

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// MethodType is the call shape of a method.
type MethodType int

// MethodTypeUnary is one request, one response.
const MethodTypeUnary MethodType = iota

func (t MethodType) String() string {
	if t == MethodTypeUnary {
		return "unary"
	}
	return fmt.Sprintf("MethodType(%d)", int(t))
}

// Marshaller converts a message type to and from its wire bytes.
type Marshaller[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// Method is the type-erased view of a method descriptor.
type Method interface {
	ServiceName() string
	MethodName() string
	FullMethodName() string
	Type() MethodType
	RequestType() reflect.Type
	ResponseType() reflect.Type
}

// MethodDescriptor identifies a callable operation and carries the marshallers of its
// messages. It is immutable once created.
type MethodDescriptor[Req, Resp any] struct {
	serviceName        string
	methodName         string
	fullMethodName     string
	typ                MethodType
	requestMarshaller  Marshaller[Req]
	responseMarshaller Marshaller[Resp]
}

// NewUnaryMethod creates the descriptor of a unary method.
func NewUnaryMethod[Req, Resp any](
	serviceName, methodName string,
	requestMarshaller Marshaller[Req],
	responseMarshaller Marshaller[Resp],
) *MethodDescriptor[Req, Resp] {
	return &MethodDescriptor[Req, Resp]{
		serviceName:        serviceName,
		methodName:         methodName,
		fullMethodName:     FullMethodName(serviceName, methodName),
		typ:                MethodTypeUnary,
		requestMarshaller:  requestMarshaller,
		responseMarshaller: responseMarshaller,
	}
}

func (m *MethodDescriptor[Req, Resp]) ServiceName() string    { return m.serviceName }
func (m *MethodDescriptor[Req, Resp]) MethodName() string     { return m.methodName }
func (m *MethodDescriptor[Req, Resp]) FullMethodName() string { return m.fullMethodName }
func (m *MethodDescriptor[Req, Resp]) Type() MethodType       { return m.typ }

// RequestType returns the Go type of the request message.
func (m *MethodDescriptor[Req, Resp]) RequestType() reflect.Type { return reflect.TypeFor[Req]() }

// ResponseType returns the Go type of the response message.
func (m *MethodDescriptor[Req, Resp]) ResponseType() reflect.Type { return reflect.TypeFor[Resp]() }

// FullMethodName joins service and method into "/service/method".
func FullMethodName(serviceName, methodName string) string {
	return "/" + serviceName + "/" + methodName
}

// SplitFullMethodName is the inverse of FullMethodName.
func SplitFullMethodName(fullMethodName string) (serviceName, methodName string, ok bool) {
	if !strings.HasPrefix(fullMethodName, "/") {
		return "", "", false
	}
	serviceName, methodName, ok = strings.Cut(fullMethodName[1:], "/")
	if !ok || serviceName == "" || methodName == "" || strings.Contains(methodName, "/") {
		return "", "", false
	}
	return serviceName, methodName, true
}

// ServiceDescriptor is the immutable aggregate of a service's methods.
type ServiceDescriptor struct {
	name    string
	schema  any
	methods []Method
}

// NewServiceDescriptor assembles a descriptor from static metadata. It panics when a
// method belongs to another service or a method name repeats, because two descriptors
// for the same name must never disagree.
func NewServiceDescriptor(name string, schema any, methods ...Method) *ServiceDescriptor {
	seen := map[string]struct{}{}
	for _, m := range methods {
		if m.ServiceName() != name {
			panic(fmt.Sprintf("rpc: method %s does not belong to service %s", m.FullMethodName(), name))
		}
		if _, exists := seen[m.MethodName()]; exists {
			panic(fmt.Sprintf("rpc: method %s registered twice", m.FullMethodName()))
		}
		seen[m.MethodName()] = struct{}{}
	}
	return &ServiceDescriptor{
		name:    name,
		schema:  schema,
		methods: append([]Method(nil), methods...),
	}
}

// Name returns the service name.
func (d *ServiceDescriptor) Name() string {
	return d.name
}

// Schema returns the optional schema metadata.
func (d *ServiceDescriptor) Schema() any {
	return d.schema
}

// Methods returns a copy of the method list.
func (d *ServiceDescriptor) Methods() []Method {
	return append([]Method(nil), d.methods...)
}

// MethodNames lists method names in declaration order.
func (d *ServiceDescriptor) MethodNames() []string {
	return lo.Map(d.methods, func(m Method, _ int) string {
		return m.MethodName()
	})
}

// Method finds a method by its full name.
func (d *ServiceDescriptor) Method(fullMethodName string) (Method, bool) {
	return lo.Find(d.methods, func(m Method) bool {
		return m.FullMethodName() == fullMethodName
	})
}

// LazyDescriptor builds a service descriptor on first use and caches it for the
// lifetime of the process.
//
// Get is double-checked: the fast path is a lock-free atomic load, and the mutex is taken
// only while the descriptor is still missing. Concurrent first callers collapse onto a
// single build and all of them observe the same fully built instance.
type LazyDescriptor struct {
	mu     sync.Mutex
	value  atomic.Pointer[ServiceDescriptor]
	build  func() *ServiceDescriptor
	builds atomic.Int32
}

// NewLazyDescriptor returns a descriptor cache using build to construct the value.
func NewLazyDescriptor(build func() *ServiceDescriptor) *LazyDescriptor {
	return &LazyDescriptor{build: build}
}

// Get returns the cached descriptor, building it first if needed.
func (l *LazyDescriptor) Get() *ServiceDescriptor {
	if d := l.value.Load(); d != nil {
		return d
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if d := l.value.Load(); d != nil {
		return d
	}
	d := l.build()
	l.builds.Add(1)
	l.value.Store(d)
	return d
}

// Builds reports how many times the descriptor has been constructed.
func (l *LazyDescriptor) Builds() int {
	return int(l.builds.Load())
}
