package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc/metadata"
)

// Credentials attach per-call authentication metadata.
type Credentials interface {
	RequestMetadata(ctx context.Context, fullMethodName string) (map[string]string, error)
}

// TokenCredentials sends the token as a bearer authorization header.
type TokenCredentials string

// AuthorizationKey is the metadata key used by TokenCredentials.
const AuthorizationKey = "authorization"

// RequestMetadata implements Credentials.
func (t TokenCredentials) RequestMetadata(_ context.Context, _ string) (map[string]string, error) {
	return map[string]string{AuthorizationKey: "Bearer " + string(t)}, nil
}

// CallOptions configure the calls issued by a stub. The struct is a value: every With*
// method returns a modified copy sharing no mutable state with the receiver.
type CallOptions struct {
	deadline     time.Time
	credentials  Credentials
	interceptors []ClientInterceptor
	md           metadata.MD
	compression  string
	routingKey   string
}

// DefaultCallOptions returns options with no deadline, credentials or interceptors.
func DefaultCallOptions() CallOptions {
	return CallOptions{}
}

// Deadline returns the absolute deadline, if any.
func (o CallOptions) Deadline() (time.Time, bool) {
	return o.deadline, !o.deadline.IsZero()
}

// Credentials returns the per-call credentials, nil if none.
func (o CallOptions) Credentials() Credentials {
	return o.credentials
}

// Interceptors returns a copy of the interceptor list.
func (o CallOptions) Interceptors() []ClientInterceptor {
	return append([]ClientInterceptor(nil), o.interceptors...)
}

// Metadata returns a copy of the outgoing metadata.
func (o CallOptions) Metadata() metadata.MD {
	return o.md.Copy()
}

// Compression returns the compressor name, empty for none.
func (o CallOptions) Compression() string {
	return o.compression
}

// RoutingKey returns the key used by key-aware balancers.
func (o CallOptions) RoutingKey() string {
	return o.routingKey
}

// WithDeadline sets an absolute deadline.
func (o CallOptions) WithDeadline(deadline time.Time) CallOptions {
	o.deadline = deadline
	return o
}

// WithDeadlineAfter sets a deadline d from now.
func (o CallOptions) WithDeadlineAfter(d time.Duration) CallOptions {
	return o.WithDeadline(time.Now().Add(d))
}

// WithCredentials replaces the credentials.
func (o CallOptions) WithCredentials(creds Credentials) CallOptions {
	o.credentials = creds
	return o
}

// WithInterceptors appends interceptors. The first one registered sees the call first.
func (o CallOptions) WithInterceptors(interceptors ...ClientInterceptor) CallOptions {
	o.interceptors = append(o.Interceptors(), interceptors...)
	return o
}

// WithMetadata adds key/value pairs to the outgoing metadata. kv must have even length.
func (o CallOptions) WithMetadata(kv ...string) CallOptions {
	o.md = metadata.Join(o.md, metadata.Pairs(kv...))
	return o
}

// WithCompression selects the payload compressor by name.
func (o CallOptions) WithCompression(name string) CallOptions {
	o.compression = name
	return o
}

// WithRoutingKey sets the key used by key-aware balancers.
func (o CallOptions) WithRoutingKey(key string) CallOptions {
	o.routingKey = key
	return o
}

func (o CallOptions) withMetadataMap(kv map[string]string) CallOptions {
	o.md = metadata.Join(o.md, metadata.New(kv))
	return o
}
