package matchcache_test

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/matchcache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T) (*matchcache.Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return matchcache.New(matchcache.Options{Now: clk.Now}), clk
}

// batch returns n matches with ids from, from+1, ...
func batch(from uint64, n int) []matchcache.CachedMatch {
	out := make([]matchcache.CachedMatch, n)
	for i := range out {
		out[i] = matchcache.CachedMatch{UserID: from + uint64(i), Score: 99 - i%40}
	}
	return out
}

func TestGet_MissAndHit(t *testing.T) {
	c, _ := newCache(t)
	assert.Nil(t, c.Get(1))
	assert.Equal(t, 0, c.RemainingCount(1))

	c.Set(1, batch(100, 3), false)
	got := c.Get(1)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(100), got[0].UserID)

	// the returned slice is a copy
	got[0].UserID = 7
	assert.Equal(t, uint64(100), c.Get(1)[0].UserID)
}

func TestCursorInvariantUnderRandomOps(t *testing.T) {
	c, _ := newCache(t)
	r := rand.New(rand.NewSource(42))
	next := uint64(1)
	total := 0

	for i := 0; i < 2000; i++ {
		if r.Intn(4) == 0 {
			n := r.Intn(10)
			appendMode := r.Intn(2) == 0
			if !appendMode {
				total = 0
			}
			c.Set(1, batch(next, n), appendMode)
			next += uint64(n)
			total += n
		} else {
			c.Pop(1)
		}

		processed := len(c.ProcessedUserIDs(1))
		remaining := c.RemainingCount(1)
		assert.GreaterOrEqual(t, processed, 0)
		assert.GreaterOrEqual(t, remaining, 0)
		assert.Equal(t, total, processed+remaining)
		assert.Len(t, c.Get(1), remaining)
	}
}

func TestPop_NeverReserves(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 4), false)

	seen := map[uint64]bool{}
	for {
		m, ok, _ := c.Pop(1)
		if !ok {
			break
		}
		assert.False(t, seen[m.UserID])
		seen[m.UserID] = true
		for _, rest := range c.Get(1) {
			assert.False(t, seen[rest.UserID])
		}
	}
	assert.Len(t, seen, 4)
	assert.Empty(t, c.Get(1))
	assert.Equal(t, []uint64{1, 2, 3, 4}, c.ProcessedUserIDs(1))

	_, ok, prefetch := c.Pop(1)
	assert.False(t, ok)
	assert.False(t, prefetch)
}

func TestSet_AppendKeepsCursorAndConsumed(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 10), false)
	for i := 0; i < 4; i++ {
		_, ok, _ := c.Pop(1)
		require.True(t, ok)
	}
	before := c.ProcessedUserIDs(1)

	c.Set(1, batch(100, 7), true)

	assert.Equal(t, before, c.ProcessedUserIDs(1))
	assert.Equal(t, 6+7, c.RemainingCount(1))
	assert.Equal(t, uint64(5), c.Get(1)[0].UserID)
}

func TestSet_ReplaceResetsCursor(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 5), false)
	c.Pop(1)
	c.Set(1, batch(50, 2), false)
	assert.Empty(t, c.ProcessedUserIDs(1))
	assert.Equal(t, []uint64{50, 51}, c.CachedUserIDs(1))
}

func TestPrefetchFiresOncePerCrossing(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, c.Threshold()+1), false)

	_, ok, prefetch := c.Pop(1)
	require.True(t, ok)
	assert.True(t, prefetch)

	_, ok, prefetch = c.Pop(1)
	require.True(t, ok)
	assert.False(t, prefetch, "second pop before append must not signal")
	assert.False(t, c.MarkPrefetch(1))

	// an append re-arms the low water mark
	c.Set(1, batch(100, 2), true)
	_, _, prefetch = c.Pop(1)
	assert.True(t, prefetch)
}

func TestPrefetch_EmptyAppendStaysArmed(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 3), false)
	_, _, prefetch := c.Pop(1)
	require.True(t, prefetch)

	c.Set(1, nil, true)
	_, _, prefetch = c.Pop(1)
	assert.False(t, prefetch)

	c.ResetPrefetch(1)
	assert.True(t, c.MarkPrefetch(1))
}

// Thirty cached candidates consumed one at a time: the refill is signaled
// when five remain, and a full append leaves the cursor where it was.
func TestScenario_PrefetchThenAppend(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 30), false)

	var signaledAt []int
	for i := 1; i <= 26; i++ {
		_, ok, prefetch := c.Pop(1)
		require.True(t, ok)
		if prefetch {
			signaledAt = append(signaledAt, i)
			assert.Equal(t, 5, c.RemainingCount(1))
		}
	}
	assert.Equal(t, []int{25}, signaledAt)

	c.Set(1, batch(1000, 30), true)
	assert.Len(t, c.ProcessedUserIDs(1), 26)
	assert.Equal(t, 34, c.RemainingCount(1))
	assert.Equal(t, 60, len(c.ProcessedUserIDs(1))+c.RemainingCount(1))
}

func TestPopFor_RotatesTargetToCursor(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 5), false)

	ok, _ := c.PopFor(1, 4)
	require.True(t, ok)
	assert.Equal(t, []uint64{4}, c.ProcessedUserIDs(1))
	assert.Equal(t, []uint64{1, 2, 3, 5}, c.CachedUserIDs(1))

	ok, _ = c.PopFor(1, 4)
	assert.False(t, ok, "already consumed")
	ok, _ = c.PopFor(1, 99)
	assert.False(t, ok)
	assert.Equal(t, 4, c.RemainingCount(1))
}

func TestTTL_LazyEviction(t *testing.T) {
	c, clk := newCache(t)
	c.Set(1, batch(1, 3), false)

	clk.Advance(29 * time.Minute)
	assert.Len(t, c.Get(1), 3)

	// an append counts as a fetch
	c.Set(1, batch(10, 1), true)
	clk.Advance(29 * time.Minute)
	assert.Len(t, c.Get(1), 4)

	clk.Advance(2 * time.Minute)
	assert.Nil(t, c.Get(1))
	assert.Equal(t, 0, c.Len())

	// append onto an expired entry starts over
	c.Set(1, batch(20, 2), true)
	assert.Equal(t, []uint64{20, 21}, c.CachedUserIDs(1))
}

func TestSweep(t *testing.T) {
	c, clk := newCache(t)
	c.Set(1, batch(1, 3), false)
	clk.Advance(20 * time.Minute)
	c.Set(2, batch(1, 3), false)
	clk.Advance(11 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Nil(t, c.Get(1))
	assert.Len(t, c.Get(2), 3)
}

func TestClear(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 3), false)
	c.Set(2, batch(1, 3), false)
	c.Clear(1)
	c.Clear(42)
	assert.Nil(t, c.Get(1))
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentPopsNeverDoubleServe(t *testing.T) {
	c, _ := newCache(t)
	c.Set(1, batch(1, 500), false)

	var (
		mu       sync.Mutex
		seen     = map[uint64]int{}
		signals  atomic.Int32
		wg       sync.WaitGroup
		popCount atomic.Int32
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, ok, prefetch := c.Pop(1)
				if !ok {
					return
				}
				popCount.Add(1)
				if prefetch {
					signals.Add(1)
				}
				mu.Lock()
				seen[m.UserID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(500), popCount.Load())
	assert.Len(t, seen, 500)
	for id, n := range seen {
		assert.Equal(t, 1, n, "candidate %d", id)
	}
	assert.Equal(t, int32(1), signals.Load())
	assert.Len(t, c.ProcessedUserIDs(1), 500)
}

func TestSweeper_StartStop(t *testing.T) {
	c := matchcache.New(matchcache.Options{TTL: time.Millisecond})
	c.Set(1, batch(1, 1), false)

	s := matchcache.NewSweeper(c, 5*time.Millisecond, logger.Discard())
	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
