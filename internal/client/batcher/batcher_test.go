package batcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/studymatch/internal/client/batcher"
	"github.com/oggyb/studymatch/internal/logger"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	fires  int
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) batcher.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.fires += len(due)
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Fires() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fires
}

type recorder struct {
	mu      sync.Mutex
	batches [][]batcher.Action
	reply   func(actions []batcher.Action) ([]batcher.Result, error)
}

func (r *recorder) Send(_ context.Context, _ string, actions []batcher.Action) ([]batcher.Result, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]batcher.Action(nil), actions...))
	reply := r.reply
	r.mu.Unlock()
	if reply != nil {
		return reply(actions)
	}
	out := make([]batcher.Result, len(actions))
	for i, a := range actions {
		out[i] = batcher.Result{TargetUserID: a.TargetUserID, Success: true}
	}
	return out, nil
}

func (r *recorder) Batches() [][]batcher.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]batcher.Action(nil), r.batches...)
}

func targets(actions []batcher.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.TargetUserID
	}
	return out
}

func newBatcher(r *recorder, clk *fakeClock, opts ...batcher.Option) *batcher.Batcher {
	base := []batcher.Option{
		batcher.WithAfterFunc(clk.AfterFunc),
		batcher.WithLogger(logger.Discard()),
	}
	return batcher.New(r, append(base, opts...)...)
}

func like(id string) batcher.Action { return batcher.Action{TargetUserID: id, Action: "LIKE"} }

func TestSizeTriggerFlushesInOrder(t *testing.T) {
	rec := &recorder{}
	clk := &fakeClock{}
	b := newBatcher(rec, clk)

	require.NoError(t, b.Enqueue(like("a")))
	require.NoError(t, b.Enqueue(like("b")))
	require.NoError(t, b.Enqueue(like("c")))

	assert.Eventually(t, func() bool { return len(rec.Batches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, targets(rec.Batches()[0]))
	assert.Empty(t, b.Pending())
	assert.Zero(t, clk.Fires())
}

func TestDebounceFlushesAfterQuietWindow(t *testing.T) {
	rec := &recorder{}
	clk := &fakeClock{}
	b := newBatcher(rec, clk)

	require.NoError(t, b.Enqueue(like("a")))
	clk.Advance(1999 * time.Millisecond)
	assert.Empty(t, rec.Batches())

	clk.Advance(time.Millisecond)
	require.Len(t, rec.Batches(), 1)
	assert.Equal(t, []string{"a"}, targets(rec.Batches()[0]))
	assert.Empty(t, b.Pending())
}

func TestDebounceResetsOnEveryEnqueue(t *testing.T) {
	rec := &recorder{}
	clk := &fakeClock{}
	b := newBatcher(rec, clk, batcher.WithSize(100))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Enqueue(like(string(rune('a'+i)))))
		clk.Advance(time.Second)
	}
	assert.Empty(t, rec.Batches())
	assert.Zero(t, clk.Fires())
	assert.Len(t, b.Pending(), 10)

	clk.Advance(time.Second)
	require.Len(t, rec.Batches(), 1)
	assert.Len(t, rec.Batches()[0], 10)
}

func TestSteadyTrickleOnlyFlushesBySize(t *testing.T) {
	rec := &recorder{}
	clk := &fakeClock{}
	b := newBatcher(rec, clk)

	for i := 0; i < 9; i++ {
		require.NoError(t, b.Enqueue(like(string(rune('a'+i)))))
		// let the size-triggered send land before the next tick
		want := (i + 1) / 3
		assert.Eventually(t, func() bool { return len(rec.Batches()) == want }, time.Second, 2*time.Millisecond)
		clk.Advance(time.Second)
	}
	assert.Zero(t, clk.Fires())
	batches := rec.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b", "c"}, targets(batches[0]))
	assert.Equal(t, []string{"g", "h", "i"}, targets(batches[2]))
}

func TestFlushOnEmptyQueueIsNoop(t *testing.T) {
	rec := &recorder{}
	b := newBatcher(rec, &fakeClock{})
	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, rec.Batches())
}

func TestWholeBatchFailureRequeuesAtFront(t *testing.T) {
	rec := &recorder{reply: func([]batcher.Action) ([]batcher.Result, error) {
		return nil, errors.New("unavailable")
	}}
	clk := &fakeClock{}
	b := newBatcher(rec, clk, batcher.WithSize(10))

	require.NoError(t, b.Enqueue(like("a")))
	require.NoError(t, b.Enqueue(like("b")))
	require.Error(t, b.Flush(context.Background()))
	assert.Equal(t, []string{"a", "b"}, targets(b.Pending()))

	// no retry loop: nothing is sent until the next enqueue or flush
	clk.Advance(time.Minute)
	assert.Len(t, rec.Batches(), 1)

	rec.mu.Lock()
	rec.reply = nil
	rec.mu.Unlock()
	require.NoError(t, b.Enqueue(like("c")))
	require.NoError(t, b.Flush(context.Background()))

	batches := rec.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "b", "c"}, targets(batches[1]))
	assert.Empty(t, b.Pending())
}

func TestPartialFailureRetriesOnlyTransientItems(t *testing.T) {
	var rejected []string
	var matched []string
	rec := &recorder{reply: func(actions []batcher.Action) ([]batcher.Result, error) {
		return []batcher.Result{
			{TargetUserID: "a", Success: true, Matched: true},
			{TargetUserID: "b", Success: false, Retryable: true, Error: "deadline"},
			{TargetUserID: "c", Success: false, Error: "match already exists"},
		}, nil
	}}
	b := newBatcher(rec, &fakeClock{},
		batcher.WithSize(10),
		batcher.WithOnRejected(func(a batcher.Action, _ batcher.Result) { rejected = append(rejected, a.TargetUserID) }),
		batcher.WithOnMatched(func(a batcher.Action) { matched = append(matched, a.TargetUserID) }),
	)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Enqueue(like(id)))
	}
	require.NoError(t, b.Flush(context.Background()))

	assert.Equal(t, []string{"b"}, targets(b.Pending()))
	assert.Equal(t, []string{"c"}, rejected)
	assert.Equal(t, []string{"a"}, matched)
}

func TestMissingResultsAreRetried(t *testing.T) {
	rec := &recorder{reply: func([]batcher.Action) ([]batcher.Result, error) {
		return []batcher.Result{{TargetUserID: "b", Success: true}}, nil
	}}
	b := newBatcher(rec, &fakeClock{}, batcher.WithSize(10))
	require.NoError(t, b.Enqueue(like("a")))
	require.NoError(t, b.Enqueue(like("b")))
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, []string{"a"}, targets(b.Pending()))
}

func TestCloseFlushesAndRejectsNewActions(t *testing.T) {
	rec := &recorder{}
	b := newBatcher(rec, &fakeClock{})
	require.NoError(t, b.Enqueue(like("a")))
	require.NoError(t, b.Close(context.Background()))

	require.Len(t, rec.Batches(), 1)
	assert.ErrorIs(t, b.Enqueue(like("b")), batcher.ErrClosed)
	assert.NoError(t, b.Close(context.Background()))
}

func TestRealTimerFlush(t *testing.T) {
	rec := &recorder{}
	b := batcher.New(rec, batcher.WithWindow(20*time.Millisecond), batcher.WithLogger(logger.Discard()))
	require.NoError(t, b.Enqueue(like("a")))
	assert.Eventually(t, func() bool { return len(rec.Batches()) == 1 }, time.Second, 5*time.Millisecond)
}
