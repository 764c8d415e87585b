package loadbalance

import (
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"logstreamer/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestNew(t *testing.T) {
	requireT := require.New(t)

	for _, name := range []string{RoundRobin, WeightedRandom, ConsistentHash} {
		b, err := New(name)
		requireT.NoError(err)
		requireT.Equal(name, b.Name())
	}

	b, err := New("")
	requireT.NoError(err)
	requireT.Equal(RoundRobin, b.Name())

	_, err = New("random")
	requireT.Error(err)
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick("key", nil)
		require.ErrorIs(t, err, ErrNoInstances, b.Name())
	}
}

func TestRoundRobin(t *testing.T) {
	requireT := require.New(t)
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := range results {
		inst, err := b.Pick("", testInstances)
		requireT.NoError(err)
		results[i] = inst.Addr
	}
	requireT.Equal([]string{":8001", ":8002", ":8003"}, results)

	// Pick again, should wrap around to first
	inst, err := b.Pick("", testInstances)
	requireT.NoError(err)
	requireT.Equal(results[0], inst.Addr)
}

func TestRoundRobinConcurrent(t *testing.T) {
	b := &RoundRobinBalancer{}

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := b.Pick("", testInstances)
			if err != nil {
				return
			}
			mu.Lock()
			counts[inst.Addr]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, map[string]int{":8001": 10, ":8002": 10, ":8003": 10}, counts)
}

func TestWeightedRandom(t *testing.T) {
	requireT := require.New(t)
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for range 10000 {
		inst, err := b.Pick("", testInstances)
		requireT.NoError(err)
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	requireT.InDelta(2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	requireT := require.New(t)
	b := &WeightedRandomBalancer{}

	instances := []registry.ServiceInstance{{Addr: ":8001"}, {Addr: ":8002", Weight: -1}}
	seen := map[string]bool{}
	for range 200 {
		inst, err := b.Pick("", instances)
		requireT.NoError(err)
		seen[inst.Addr] = true
	}
	requireT.Len(seen, 2)

	instances = []registry.ServiceInstance{{Addr: ":8001"}, {Addr: ":8002", Weight: 3}}
	for range 100 {
		inst, err := b.Pick("", instances)
		requireT.NoError(err)
		requireT.Equal(":8002", inst.Addr)
	}
}

func TestConsistentHash(t *testing.T) {
	requireT := require.New(t)
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, err := b.Pick("app/out.log", testInstances)
	requireT.NoError(err)
	inst2, err := b.Pick("app/out.log", testInstances)
	requireT.NoError(err)
	requireT.Equal(inst1.Addr, inst2.Addr)

	// Different keys should spread over the instances
	seen := map[string]bool{}
	for i := range 100 {
		inst, err := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		requireT.NoError(err)
		seen[inst.Addr] = true
	}
	requireT.GreaterOrEqual(len(seen), 2)
}

func TestConsistentHashRebuild(t *testing.T) {
	requireT := require.New(t)
	b := NewConsistentHashBalancer()

	before := map[string]string{}
	for i := range 100 {
		key := fmt.Sprintf("key-%d", i)
		inst, err := b.Pick(key, testInstances)
		requireT.NoError(err)
		before[key] = inst.Addr
	}

	// Dropping :8002 only moves the keys it owned.
	remaining := []registry.ServiceInstance{testInstances[0], testInstances[2]}
	for key, addr := range before {
		inst, err := b.Pick(key, remaining)
		requireT.NoError(err)
		requireT.NotEqual(":8002", inst.Addr)
		if addr != ":8002" {
			requireT.Equal(addr, inst.Addr, key)
		}
	}

	// Order of the instance list does not change the ring.
	reversed := []registry.ServiceInstance{testInstances[2], testInstances[0]}
	for key := range before {
		a, err := b.Pick(key, remaining)
		requireT.NoError(err)
		r, err := b.Pick(key, reversed)
		requireT.NoError(err)
		requireT.Equal(a.Addr, r.Addr)
	}
}

func TestConsistentHashConcurrentInstanceSets(t *testing.T) {
	b := NewConsistentHashBalancer()
	sets := [][]registry.ServiceInstance{
		{{Addr: ":9001"}, {Addr: ":9002"}},
		{{Addr: ":9101"}, {Addr: ":9102"}, {Addr: ":9103"}},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var foreign []string
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			instances := sets[g%len(sets)]
			for i := range 500 {
				inst, err := b.Pick(fmt.Sprintf("key-%d", i), instances)
				if err != nil || !lo.ContainsBy(instances, func(i registry.ServiceInstance) bool { return i.Addr == inst.Addr }) {
					mu.Lock()
					foreign = append(foreign, fmt.Sprint(inst, err))
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, foreign)
}
