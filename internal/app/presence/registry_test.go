package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFirstAndLastConnection(t *testing.T) {
	reg := NewRegistry[int]()

	assert.True(t, reg.Set("alice", 1), "first handle")
	assert.False(t, reg.Set("alice", 2), "second device is not first")
	assert.False(t, reg.Set("alice", 2), "duplicate set is a no-op")
	assert.ElementsMatch(t, []int{1, 2}, reg.Get("alice"))

	assert.False(t, reg.Remove("alice", 1))
	assert.True(t, reg.Online("alice"))
	assert.True(t, reg.Remove("alice", 2))
	assert.False(t, reg.Online("alice"))
	assert.Empty(t, reg.Get("alice"))
	assert.False(t, reg.Remove("alice", 2), "unknown handle")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			reg.Set("bob", h)
		}(i)
	}
	wg.Wait()
	require.Len(t, reg.Get("bob"), 50)
	assert.Equal(t, []string{"bob"}, reg.Users())

	firstLast := 0
	for i := 0; i < 50; i++ {
		if reg.Remove("bob", i) {
			firstLast++
		}
	}
	assert.Equal(t, 1, firstLast)
}

func TestLocalTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewLocalTracker()

	first, err := tr.Connect(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = tr.Connect(ctx, "u1", "c2")
	require.NoError(t, err)
	assert.False(t, first)

	online, err := tr.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
	require.NoError(t, tr.Refresh(ctx, "u1", "c1"))

	last, err := tr.Disconnect(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, last)
	last, err = tr.Disconnect(ctx, "u1", "c2")
	require.NoError(t, err)
	assert.True(t, last)
}
