// Package api defines the LogStreamer service: its messages, descriptors, the interface a
// receiver implements and the three client stubs.
//
// LogStreamer sends a LogRequest and receives a LogResponse.
package api

import (
	"context"

	"logstreamer/codec"
	"logstreamer/rpc"
)

// ServiceName is the name LogStreamer is registered and discovered under.
const ServiceName = "api.LogStreamer"

// LogRequest is one line of log data addressed to a log file on the receiver.
type LogRequest struct {
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	Line     string `json:"line,omitempty"`
}

func (m *LogRequest) GetPath() string {
	if m != nil {
		return m.Path
	}
	return ""
}

func (m *LogRequest) GetFilename() string {
	if m != nil {
		return m.Filename
	}
	return ""
}

func (m *LogRequest) GetLine() string {
	if m != nil {
		return m.Line
	}
	return ""
}

// LogResponse acknowledges a LogRequest.
type LogResponse struct {
	Res string `json:"res,omitempty"`
}

func (m *LogResponse) GetRes() string {
	if m != nil {
		return m.Res
	}
	return ""
}

// MethodLog describes the unary Log method.
var MethodLog = rpc.NewUnaryMethod[*LogRequest, *LogResponse](
	ServiceName, "Log",
	codec.NewJSONMarshaller[*LogRequest](),
	codec.NewJSONMarshaller[*LogResponse](),
)

// Schema is the descriptor's schema metadata.
type Schema struct {
	Source string
}

var serviceDescriptor = rpc.NewLazyDescriptor(func() *rpc.ServiceDescriptor {
	return rpc.NewServiceDescriptor(ServiceName, Schema{Source: "logStream.proto"}, MethodLog)
})

// GetServiceDescriptor returns the process-wide LogStreamer descriptor.
func GetServiceDescriptor() *rpc.ServiceDescriptor {
	return serviceDescriptor.Get()
}

// LogStreamerServer is implemented by receivers.
type LogStreamerServer interface {
	// Log handles a single log line.
	Log(ctx context.Context, req *LogRequest) (*LogResponse, error)
}

// UnimplementedLogStreamerServer can be embedded to satisfy LogStreamerServer without
// implementing every method. Missing methods fail with codes.Unimplemented.
type UnimplementedLogStreamerServer struct{}

func (UnimplementedLogStreamerServer) Log(context.Context, *LogRequest) (*LogResponse, error) {
	return nil, rpc.UnimplementedUnaryCall(MethodLog)
}

// BindService builds the binding table routing LogStreamer calls to impl.
func BindService(impl LogStreamerServer) *rpc.ServiceDefinition {
	return rpc.NewServiceDefinition(GetServiceDescriptor()).
		AddMethod(rpc.UnaryMethod(MethodLog, impl.Log)).
		Build()
}
