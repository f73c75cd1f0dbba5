// ABOUTME: Per-user sliding-window rate limiting and flood detection
// ABOUTME: Bounded memory via periodic sweeps and least-recently-active eviction

package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// floodWindowLong / floodMaxLong: more than 10 actions in the trailing
	// minute counts as flooding.
	floodWindowLong = time.Minute
	floodMaxLong    = 10

	// floodWindowShort / floodMaxShort: more than 3 actions in the trailing
	// 10 seconds counts as flooding.
	floodWindowShort = 10 * time.Second
	floodMaxShort    = 3
)

// Limiter tracks per-user request timestamps for two independent checks: a
// configurable sliding window for permission-gated actions, and an always-on
// flood guard applied to every inbound event.
//
// All methods are safe for concurrent use. A background goroutine sweeps empty
// histories and enforces the user ceiling; call Close to stop it.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	limit    int
	maxUsers int
	logger   *slog.Logger
	done     chan struct{}
	closed   bool

	now func() time.Time // swappable for tests
}

// New creates a Limiter enforcing limit requests per window, tracking at most
// maxUsers users in memory. The sweep goroutine runs every sweepInterval.
func New(window time.Duration, limit, maxUsers int, sweepInterval time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		requests: make(map[string][]time.Time),
		window:   window,
		limit:    limit,
		maxUsers: maxUsers,
		logger:   logger.With("component", "ratelimit"),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go l.sweep(sweepInterval)
	return l
}

// Allow records one request for the user and reports whether it fits in the
// sliding window. A denied request is not recorded, so being over the limit
// does not extend the penalty.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reqs := prune(l.requests[userID], now.Add(-l.window))
	if len(reqs) >= l.limit {
		l.requests[userID] = reqs
		return false
	}
	l.requests[userID] = append(reqs, now)
	return true
}

// Flooding reports whether the user exceeds either flood guard window. It only
// inspects history already recorded by Observe/Allow; it does not record.
func (l *Limiter) Flooding(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reqs := l.requests[userID]
	return countSince(reqs, now.Add(-floodWindowLong)) > floodMaxLong ||
		countSince(reqs, now.Add(-floodWindowShort)) > floodMaxShort
}

// Observe records an inbound event for flood accounting without consuming the
// sliding-window budget used by Allow.
//
// Events recorded here do count toward the window when Allow next prunes, which
// mirrors the single shared history the flood guard is defined over.
func (l *Limiter) Observe(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests[userID] = append(l.requests[userID], l.now())
}

// prune drops timestamps at or before the cutoff. Timestamps are appended in
// order, so a binary search keeps this cheap.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

func countSince(ts []time.Time, cutoff time.Time) int {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	return len(ts) - i
}

// sweep periodically drops empty histories and, above the user ceiling, evicts
// the least-recently-active half.
func (l *Limiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runSweep()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) runSweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	removed := 0
	for userID, reqs := range l.requests {
		reqs = prune(reqs, cutoff)
		if len(reqs) == 0 {
			delete(l.requests, userID)
			removed++
			continue
		}
		l.requests[userID] = reqs
	}

	if len(l.requests) > l.maxUsers {
		l.evictOldestHalf()
	}

	if removed > 0 {
		l.logger.Debug("rate limiter sweep", "removed", removed, "tracked", len(l.requests))
	}
}

// evictOldestHalf removes the least-recently-active half of tracked users.
// Must be called with mu held.
func (l *Limiter) evictOldestHalf() {
	type lastSeen struct {
		userID string
		at     time.Time
	}
	users := make([]lastSeen, 0, len(l.requests))
	for userID, reqs := range l.requests {
		users = append(users, lastSeen{userID: userID, at: reqs[len(reqs)-1]})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].at.Before(users[j].at) })

	evict := users[:len(users)/2]
	for _, u := range evict {
		delete(l.requests, u.userID)
	}
	l.logger.Warn("rate limiter user ceiling reached, evicted least-recently-active half",
		"evicted", len(evict), "tracked", len(l.requests))
}

// TrackedUsers returns the number of users currently held in memory.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
