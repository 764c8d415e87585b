package rpc

// Stub is the state shared by every generated stub flavour: a channel and the call
// options applied to each call. It is a value; the With* helpers of concrete stubs copy it.
type Stub struct {
	channel Channel
	options CallOptions
}

// NewStub binds ch with default call options.
func NewStub(ch Channel) Stub {
	return Stub{channel: ch, options: DefaultCallOptions()}
}

// Channel returns the channel calls are issued on.
func (s Stub) Channel() Channel {
	return s.channel
}

// CallOptions returns the options applied to each call.
func (s Stub) CallOptions() CallOptions {
	return s.options
}

// WithCallOptions returns a copy using opts.
func (s Stub) WithCallOptions(opts CallOptions) Stub {
	s.options = opts
	return s
}
