package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_SetAndGet(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("generation.model", "gpt-4o"))
	require.NoError(t, store.Set("generation.model", "gpt-4o-mini"))

	val, ok := store.Get("generation.model")
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", val)
	assert.Equal(t, "gpt-4o-mini", store.GetString("generation.model"))

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore()
	_ = store.Set("engine.concurrency", int64(6))
	_ = store.Set("generation.max_tokens", 512)
	_ = store.Set("retry.multiplier", 3)
	_ = store.Set("generation.temperature", 0.2)
	_ = store.Set("engine.stale_after", "2m")
	_ = store.Set("upload.allowed_types", []any{"text/plain", 42})

	assert.Equal(t, 6, store.GetInt("engine.concurrency"))
	assert.Equal(t, 512, store.GetInt("generation.max_tokens"))
	assert.InDelta(t, 3.0, store.GetFloat("retry.multiplier"), 0.0001)
	assert.InDelta(t, 0.2, store.GetFloat("generation.temperature"), 0.0001)
	assert.Equal(t, 2*time.Minute, store.GetDuration("engine.stale_after"))
	assert.Equal(t, []string{"text/plain"}, store.GetStringSlice("upload.allowed_types"))
}

func TestConfigStore_WrongTypes(t *testing.T) {
	store := NewConfigStore()
	_ = store.Set("k", struct{}{})
	_ = store.Set("d", "soon")

	assert.Empty(t, store.GetString("k"))
	assert.Zero(t, store.GetInt("k"))
	assert.Zero(t, store.GetFloat("k"))
	assert.Zero(t, store.GetDuration("d"))
	assert.Nil(t, store.GetStringSlice("k"))
}

func TestConfigStore_ConcurrentAccess(t *testing.T) {
	store := NewConfigStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Set("engine.concurrency", n)
			_ = store.GetInt("engine.concurrency")
		}(i)
	}
	wg.Wait()
}
