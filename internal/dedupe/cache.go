// ABOUTME: Thread-safe TTL cache for suppressing duplicate poll questions.
// ABOUTME: Rejects a creator re-posting an identical question within the window.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited record of recently
// posted (creator, question) pairs. The decision engine consults it before
// creating a poll so the same creator cannot re-post an identical question
// within the suppression window.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a duplicate-suppression cache with the given window and maximum
// size. A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Key builds the cache key for a creator/question pair. The question is
// whitespace-normalized and case-folded so trivial reformatting is still
// considered the same question.
func Key(creatorID, question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	return creatorID + "\x00" + normalized
}

// Seen returns true if the key was recorded and has not expired.
func (c *Cache) Seen(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// SeenOrRecord atomically checks whether the key was recorded within the
// window and records it if not. Returns true when the key is a duplicate.
// The single critical section avoids a TOCTOU race between check and record.
func (c *Cache) SeenOrRecord(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.recordLocked(key)
	return false
}

// Record marks a key as seen. If the cache is at capacity, the oldest entry is
// evicted to make room.
func (c *Cache) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(key)
}

// Forget drops a key, re-allowing the question immediately. Used when poll
// creation fails after the key was recorded.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return
	}
	c.order.Remove(entry.element)
	delete(c.seen, key)
}

// recordLocked is the internal record implementation. Must be called with mu held.
func (c *Cache) recordLocked(key string) {
	now := time.Now()

	// If key already exists, update timestamp and move to back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
