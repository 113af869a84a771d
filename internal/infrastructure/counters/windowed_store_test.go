package counters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/counters"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestIncrement_CreatesAndCounts(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_000, 0)}
	s := counters.NewWindowedCounterStore(4, counters.WithClock(clk.Now))

	require.Equal(t, int64(1), s.Increment("acme:16", 60))
	require.Equal(t, int64(2), s.Increment("acme:16", 60))
	require.Equal(t, int64(1), s.Increment("other:16", 60))
	assert.Equal(t, int64(2), s.Peek("acme:16"))
	assert.Equal(t, int64(0), s.Peek("missing"))
}

func TestIncrement_ExpiredEntryIsReplaced(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := counters.NewWindowedCounterStore(1, counters.WithClock(clk.Now))

	s.Increment("k", 10)
	s.Increment("k", 10)
	clk.Advance(10 * time.Second)

	assert.Equal(t, int64(0), s.Peek("k"), "expired counter must read as absent")
	assert.Equal(t, int64(1), s.Increment("k", 10))
}

func TestPeek_DoesNotMutate(t *testing.T) {
	s := counters.NewWindowedCounterStore(8)
	s.Increment("k", 60)
	for i := 0; i < 5; i++ {
		s.Peek("k")
	}
	assert.Equal(t, int64(1), s.Peek("k"))
	assert.Equal(t, 1, s.Len())
}

func TestIncrement_ConcurrentSameKeyLosesNothing(t *testing.T) {
	s := counters.NewWindowedCounterStore(16)
	const workers, perWorker = 32, 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Increment("hot", 60)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), s.Peek("hot"))
}

func TestReap_RemovesOnlyExpired(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := counters.NewWindowedCounterStore(4, counters.WithClock(clk.Now))
	s.Increment("short", 1)
	s.Increment("long", 120)

	clk.Advance(5 * time.Second)
	removed := s.Reap(clk.Now())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), s.Peek("long"))
}

func TestRunReaper_StopsOnCancel(t *testing.T) {
	s := counters.NewWindowedCounterStore(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunReaper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
