package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()
	reg := NewMemoryRegistry()

	inst1 := ServiceInstance{ID: "a", Addr: "127.0.0.1:8002", Weight: 5}
	inst2 := ServiceInstance{ID: "b", Addr: "127.0.0.1:8001", Weight: 10}
	requireT.NoError(reg.Register(ctx, "api.LogStreamer", inst1, 10))
	requireT.NoError(reg.Register(ctx, "api.LogStreamer", inst2, 10))
	requireT.Error(reg.Register(ctx, "api.LogStreamer", ServiceInstance{}, 10))

	instances, err := reg.Discover(ctx, "api.LogStreamer")
	requireT.NoError(err)
	requireT.Equal([]ServiceInstance{inst2, inst1}, instances)

	requireT.NoError(reg.Deregister(ctx, "api.LogStreamer", inst2.Addr))
	requireT.NoError(reg.Deregister(ctx, "api.LogStreamer", "unknown"))

	instances, err = reg.Discover(ctx, "api.LogStreamer")
	requireT.NoError(err)
	requireT.Equal([]ServiceInstance{inst1}, instances)

	instances, err = reg.Discover(ctx, "other")
	requireT.NoError(err)
	requireT.Empty(instances)
}

func TestMemoryWatch(t *testing.T) {
	requireT := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewMemoryRegistry()

	inst := ServiceInstance{ID: "a", Addr: "127.0.0.1:8001", Weight: 1}
	requireT.NoError(reg.Register(ctx, "api.LogStreamer", inst, 10))

	updates := reg.Watch(ctx, "api.LogStreamer")
	requireT.Equal([]ServiceInstance{inst}, <-updates)

	inst2 := ServiceInstance{ID: "b", Addr: "127.0.0.1:8002", Weight: 1}
	requireT.NoError(reg.Register(ctx, "api.LogStreamer", inst2, 10))
	requireT.NoError(reg.Deregister(ctx, "api.LogStreamer", inst.Addr))

	// Only the latest state is kept for a slow watcher.
	requireT.Equal([]ServiceInstance{inst2}, <-updates)

	cancel()
	_, open := <-updates
	requireT.False(open)
}
