// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for services:
//
//	Key:   /logstreamer/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed, so no "ghost" instances remain.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix is the root of all registry keys.
const KeyPrefix = "/logstreamer/"

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc // Stops KeepAlive
}

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	log    *zap.Logger

	mu     sync.Mutex
	leases map[string]lease // key → lease kept alive by this process
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, log *zap.Logger) (*EtcdRegistry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &EtcdRegistry{client: c, log: log, leases: map[string]lease{}}, nil
}

func serviceKey(serviceName, addr string) string {
	return servicePrefix(serviceName) + addr
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

// Register adds a service instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// KeepAlive runs on its own context: it must outlive ctx and stops on Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	// Create a TTL-based lease, if KeepAlive stops the entry auto-expires
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "granting lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.WithStack(err)
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return errors.Wrapf(err, "putting %s", key)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(keepAliveCtx, grant.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "starting lease keepalive")
	}

	r.mu.Lock()
	if previous, exists := r.leases[key]; exists {
		previous.cancel()
	}
	r.leases[key] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.log.Debug("Lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes a service instance from etcd and revokes its lease.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "deleting %s", key)
	}

	r.mu.Lock()
	l, exists := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if exists {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			return errors.Wrap(err, "revoking lease")
		}
	}
	return nil
}

// Watch monitors a service prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
// The current list is emitted first.
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)

		// Watch before the initial read so no change falls between the two.
		watchChan := r.client.Watch(clientv3.WithRequireLeader(ctx), servicePrefix(serviceName), clientv3.WithPrefix())

		refresh := func() {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.log.Warn("Refreshing instances failed", zap.String("service", serviceName), zap.Error(err))
				return
			}
			publish(ch, instances)
		}

		refresh()
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.log.Warn("Watch failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			refresh()
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
// Queries etcd with a key prefix to find all instances under /logstreamer/{serviceName}/.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", serviceName)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn("Skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	sortInstances(instances)

	return instances, nil
}

// Close stops all lease renewals and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, l := range r.leases {
		l.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()

	return errors.WithStack(r.client.Close())
}
