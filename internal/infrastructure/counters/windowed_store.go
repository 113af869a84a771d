package counters

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// DefaultShards is the shard count used when none (or an invalid one) is configured.
const DefaultShards = 64

type counter struct {
	value     int64
	expiresAt time.Time
}

type shard struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

// WindowedCounterStore is an in-memory fixed-window counter store.
//
// Keys are spread over independently locked shards, so increments for unrelated
// tenants never contend on one lock while increments for the same key are
// serialised by their shard. Expired entries are treated as absent and replaced
// on the next increment; RunReaper optionally bounds memory.
type WindowedCounterStore struct {
	shards []*shard
	mask   uint64
	now    func() time.Time
	logger *logrus.Logger
}

// Option customises a WindowedCounterStore.
type Option func(*WindowedCounterStore)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *WindowedCounterStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger used by the reaper.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *WindowedCounterStore) { s.logger = logger }
}

// NewWindowedCounterStore creates a store with shardCount shards, rounded up to a power of two.
func NewWindowedCounterStore(shardCount int, opts ...Option) *WindowedCounterStore {
	n := nextPowerOfTwo(shardCount)
	s := &WindowedCounterStore{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		n = DefaultShards
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *WindowedCounterStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Increment implements ports.CounterStore.
func (s *WindowedCounterStore) Increment(key string, windowSeconds int) int64 {
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(time.Duration(windowSeconds) * time.Second)}
		sh.counters[key] = c
	}
	c.value++
	return c.value
}

// Peek implements ports.CounterStore.
func (s *WindowedCounterStore) Peek(key string) int64 {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, ok := sh.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		return 0
	}
	return c.value
}

// Len returns the number of stored entries, expired ones included until reaped.
func (s *WindowedCounterStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.counters)
		sh.mu.RUnlock()
	}
	return total
}

// Reap deletes entries that expired at or before now and returns how many were removed.
// Shards are locked one at a time.
func (s *WindowedCounterStore) Reap(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.counters {
			if !now.Before(c.expiresAt) {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunReaper reaps expired entries every interval until ctx is done.
func (s *WindowedCounterStore) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Reap(s.now())
			if removed > 0 && s.logger != nil {
				s.logger.WithFields(logrus.Fields{"removed": removed, "remaining": s.Len()}).Debug("counter store: reaped expired windows")
			}
		}
	}
}
