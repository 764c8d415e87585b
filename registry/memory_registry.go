package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// MemoryRegistry keeps instances in process memory. It serves single-node deployments
// and tests. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance // service → addr → instance
	watchers map[string][]chan []ServiceInstance
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: map[string]map[string]ServiceInstance{},
		watchers: map[string][]chan []ServiceInstance{},
	}
}

// Register adds or replaces the instance listening on instance.Addr.
func (r *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	if instance.Addr == "" {
		return errors.New("instance address is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services[serviceName] == nil {
		r.services[serviceName] = map[string]ServiceInstance{}
	}
	r.services[serviceName][instance.Addr] = instance
	r.notify(serviceName)
	return nil
}

// Deregister removes the instance listening on addr.
func (r *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[serviceName][addr]; !exists {
		return nil
	}
	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

// Discover returns the registered instances sorted by address.
func (r *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.list(serviceName), nil
}

// Watch emits the current list and then every change until ctx is done.
func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	publish(ch, r.list(serviceName))
	r.mu.Unlock()

	go func() {
		<-ctx.Done()

		r.mu.Lock()
		defer r.mu.Unlock()

		r.watchers[serviceName] = lo.Without(r.watchers[serviceName], ch)
		close(ch)
	}()

	return ch
}

func (r *MemoryRegistry) list(serviceName string) []ServiceInstance {
	instances := lo.Values(r.services[serviceName])
	sortInstances(instances)
	return instances
}

func (r *MemoryRegistry) notify(serviceName string) {
	instances := r.list(serviceName)
	for _, ch := range r.watchers[serviceName] {
		publish(ch, instances)
	}
}
