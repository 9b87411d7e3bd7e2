package service

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	first := &liveAttempt{id: id}
	got, added := r.Add(first)
	require.True(t, added)
	assert.Same(t, first, got)

	second := &liveAttempt{id: id}
	got, added = r.Add(second)
	assert.False(t, added)
	assert.Same(t, first, got)

	la, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, first, la)
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.Remove(second), "stale entry must not evict the live one")
	assert.True(t, r.Remove(first))
	_, ok = r.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	var wg sync.WaitGroup
	winners := make(chan *liveAttempt, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _ := r.Add(&liveAttempt{id: id})
			winners <- got
		}()
	}
	wg.Wait()
	close(winners)

	var first *liveAttempt
	for w := range winners {
		if first == nil {
			first = w
		}
		assert.Same(t, first, w)
	}
	assert.Len(t, r.List(), 1)
}
