// Package registry is the service discovery layer: servers register the instances they
// serve, clients discover and watch them.
package registry

import (
	"context"
	"sort"
)

// ServiceInstance is one server serving a service.
type ServiceInstance struct {
	ID      string `json:"id" yaml:"id"`
	Addr    string `json:"addr" yaml:"addr"`
	Weight  int    `json:"weight" yaml:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Registry stores service instances.
type Registry interface {
	// Register announces instance under serviceName. The entry expires ttl seconds after
	// the registering process stops renewing it.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	// Deregister removes the instance listening on addr.
	Deregister(ctx context.Context, serviceName string, addr string) error
	// Discover returns the instances currently registered, sorted by address.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list every time it changes. The channel is closed
	// when ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

func sortInstances(instances []ServiceInstance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Addr < instances[j].Addr
	})
}

// publish replaces any undelivered list in ch with instances, so a slow watcher always
// reads the latest state.
func publish(ch chan []ServiceInstance, instances []ServiceInstance) {
	for {
		select {
		case ch <- instances:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
