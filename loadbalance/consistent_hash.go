package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"logstreamer/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// so every line of one log file lands on the same receiver.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 instances might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per instance ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
//
// The ring is rebuilt whenever Pick sees a different instance set.
type ConsistentHashBalancer struct {
	replicas int // Virtual nodes per real instance

	mu        sync.RWMutex
	signature string                             // Addresses the ring was built from
	ring      []uint32                           // Sorted hash values on the ring
	nodes     map[uint32]registry.ServiceInstance // Hash value → instance mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    map[uint32]registry.ServiceInstance{},
	}
}

// Pick finds the instance responsible for key.
// It hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node (ring property).
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	signature := ringSignature(instances)

	b.mu.RLock()
	if b.signature == signature {
		defer b.mu.RUnlock()
		return b.lookup(key), nil
	}
	b.mu.RUnlock()

	// The search runs under the same lock as the rebuild, so the ring it reads is the one
	// built from instances.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.signature != signature {
		b.rebuild(signature, instances)
	}
	return b.lookup(key), nil
}

// lookup must be called with mu held.
func (b *ConsistentHashBalancer) lookup(key string) *registry.ServiceInstance {
	hash := crc32.ChecksumIEEE([]byte(key))

	// Binary search: find first node with hash >= key's hash
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})

	// Wrap around: if key's hash > all nodes, go to the first node
	if idx == len(b.ring) {
		idx = 0
	}

	instance := b.nodes[b.ring[idx]]
	return &instance
}

func (b *ConsistentHashBalancer) Name() string {
	return ConsistentHash
}

// rebuild places every instance onto a new ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
// It must be called with mu held for writing.
func (b *ConsistentHashBalancer) rebuild(signature string, instances []registry.ServiceInstance) {
	ring := make([]uint32, 0, len(instances)*b.replicas)
	nodes := make(map[uint32]registry.ServiceInstance, len(instances)*b.replicas)
	for _, instance := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
			ring = append(ring, hash)
			nodes[hash] = instance
		}
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(ring, func(i, j int) bool {
		return ring[i] < ring[j]
	})

	b.ring = ring
	b.nodes = nodes
	b.signature = signature
}

func ringSignature(instances []registry.ServiceInstance) string {
	addrs := make([]string, 0, len(instances))
	for _, instance := range instances {
		addrs = append(addrs, instance.Addr)
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}
