// ABOUTME: Tests for the duplicate-question suppression cache.
// ABOUTME: Validates key normalization, TTL expiration, eviction and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey_NormalizesQuestion(t *testing.T) {
	assert.Equal(t, Key("u1", "Выделить бюджет?"), Key("u1", "  выделить   БЮДЖЕТ?  "))
	assert.NotEqual(t, Key("u1", "Выделить бюджет?"), Key("u2", "Выделить бюджет?"))
	assert.NotEqual(t, Key("u1", "Вопрос А"), Key("u1", "Вопрос Б"))
}

func TestCache_SeenOrRecord(t *testing.T) {
	cache := New(time.Hour, 100)
	defer cache.Close()

	key := Key("u1", "Вопрос?")
	assert.False(t, cache.SeenOrRecord(key), "first post is not a duplicate")
	assert.True(t, cache.SeenOrRecord(key), "re-post within the window is a duplicate")
	assert.True(t, cache.Seen(key))
}

func TestCache_Expiry(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	key := Key("u1", "Вопрос?")
	cache.Record(key)
	assert.True(t, cache.Seen(key))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.Seen(key))
	assert.False(t, cache.SeenOrRecord(key), "an expired entry is no longer a duplicate")
}

func TestCache_Forget(t *testing.T) {
	cache := New(time.Hour, 100)
	defer cache.Close()

	key := Key("u1", "Вопрос?")
	cache.Record(key)
	cache.Forget(key)
	assert.False(t, cache.Seen(key))

	// Forgetting an unknown key is a no-op
	cache.Forget("missing")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(time.Hour, 3)
	defer cache.Close()

	for i := 0; i < 4; i++ {
		cache.Record(fmt.Sprintf("key-%d", i))
	}

	assert.False(t, cache.Seen("key-0"), "oldest key should be evicted")
	assert.True(t, cache.Seen("key-1"))
	assert.True(t, cache.Seen("key-3"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New(time.Hour, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := Key(fmt.Sprintf("u%d", n), fmt.Sprintf("вопрос %d", j))
				cache.SeenOrRecord(key)
				cache.Seen(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	cache := New(time.Hour, 10)
	cache.Close()
	cache.Close()
}
