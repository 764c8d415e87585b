package api

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceDescriptorBuiltOnce(t *testing.T) {
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			GetServiceDescriptor()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, serviceDescriptor.Builds())
}
