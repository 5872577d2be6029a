// Package batcher coalesces swipe decisions into batched sends.
//
// A batch is sent when the queue reaches the size threshold or when no new
// action has arrived for the debounce window, whichever comes first. Sends
// are serialized, so batches reach the server in the order they were taken.
// Failed actions go back to the front of the queue and wait for the next
// enqueue or Flush; there is no retry loop.
package batcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oggyb/studymatch/internal/logger"
)

const (
	DefaultSize   = 3
	DefaultWindow = 2 * time.Second
)

var ErrClosed = errors.New("batcher closed")

// Action is a pending decision on one candidate.
type Action struct {
	TargetUserID string
	Action       string
	EnqueuedAt   time.Time
}

// Result is the server's verdict on one action of a batch.
type Result struct {
	TargetUserID string
	Success      bool
	Matched      bool
	// Retryable marks transient failures. Non-retryable failures are final.
	Retryable bool
	Error     string
}

// Sender delivers a batch. A returned error means nothing is known about the
// batch and every action is retried; otherwise results are per action.
type Sender interface {
	Send(ctx context.Context, batchID string, actions []Action) ([]Result, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, batchID string, actions []Action) ([]Result, error)

func (f SenderFunc) Send(ctx context.Context, batchID string, actions []Action) ([]Result, error) {
	return f(ctx, batchID, actions)
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Batcher)

func WithSize(n int) Option { return func(b *Batcher) { b.size = n } }

func WithWindow(d time.Duration) Option { return func(b *Batcher) { b.window = d } }

func WithAfterFunc(f AfterFunc) Option { return func(b *Batcher) { b.afterFunc = f } }

func WithLogger(l *slog.Logger) Option { return func(b *Batcher) { b.log = l } }

func WithClock(now func() time.Time) Option { return func(b *Batcher) { b.now = now } }

// WithSendTimeout bounds sends started by the size or time trigger.
func WithSendTimeout(d time.Duration) Option { return func(b *Batcher) { b.sendTimeout = d } }

// WithOnRejected is called for each action the server refused for good.
func WithOnRejected(f func(Action, Result)) Option { return func(b *Batcher) { b.onRejected = f } }

// WithOnMatched is called for each action that produced a mutual match.
func WithOnMatched(f func(Action)) Option { return func(b *Batcher) { b.onMatched = f } }

type Batcher struct {
	sender      Sender
	size        int
	window      time.Duration
	sendTimeout time.Duration
	afterFunc   AfterFunc
	now         func() time.Time
	log         *slog.Logger
	onRejected  func(Action, Result)
	onMatched   func(Action)

	mu      sync.Mutex
	pending []Action
	timer   Timer
	gen     uint64
	closed  bool

	// flushMu serializes take-and-send so batches stay in FIFO order.
	flushMu sync.Mutex
	async   sync.WaitGroup
}

func New(sender Sender, opts ...Option) *Batcher {
	b := &Batcher{
		sender:      sender,
		size:        DefaultSize,
		window:      DefaultWindow,
		sendTimeout: 10 * time.Second,
		afterFunc:   func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:         time.Now,
		log:         logger.L(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.size <= 0 {
		b.size = DefaultSize
	}
	return b
}

// Enqueue adds an action. Reaching the size threshold starts a send in the
// background; otherwise the debounce window is restarted.
func (b *Batcher) Enqueue(a Action) error {
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = b.now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending = append(b.pending, a)
	b.stopTimerLocked()

	if len(b.pending) >= b.size {
		b.async.Add(1)
		b.mu.Unlock()
		go func() {
			defer b.async.Done()
			b.flushDetached()
		}()
		return nil
	}

	gen := b.gen
	b.timer = b.afterFunc(b.window, func() { b.onTimer(gen) })
	b.mu.Unlock()
	return nil
}

// stopTimerLocked cancels the debounce timer. Bumping gen also disarms a
// callback that already fired but has not yet taken the lock.
func (b *Batcher) stopTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) onTimer(gen uint64) {
	b.mu.Lock()
	current := gen == b.gen
	if current {
		b.timer = nil
	}
	b.mu.Unlock()
	if current {
		b.flushDetached()
	}
}

func (b *Batcher) flushDetached() {
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.log.Warn("action batch flush failed; actions kept for retry", "err", err)
	}
}

// Flush sends everything pending now. It is a no-op on an empty queue.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	results, err := b.sender.Send(ctx, batchID, batch)
	if err != nil {
		b.requeue(batch)
		b.log.Warn("action batch send failed", "batch", batchID, "actions", len(batch), "err", err)
		return err
	}

	retry := b.settle(batchID, batch, results)
	if len(retry) > 0 {
		b.requeue(retry)
		b.log.Warn("action batch partially failed", "batch", batchID, "retrying", len(retry), "actions", len(batch))
	} else {
		b.log.Debug("action batch sent", "batch", batchID, "actions", len(batch))
	}
	return nil
}

// settle applies per-action results and returns the actions to retry.
// Actions without a result are retried.
func (b *Batcher) settle(batchID string, batch []Action, results []Result) []Action {
	byTarget := make(map[string]Result, len(results))
	aligned := len(results) == len(batch)
	if !aligned {
		for _, r := range results {
			byTarget[r.TargetUserID] = r
		}
	}

	var retry []Action
	for i, a := range batch {
		var (
			r  Result
			ok bool
		)
		if aligned {
			r, ok = results[i], true
		} else {
			r, ok = byTarget[a.TargetUserID]
		}

		switch {
		case !ok || (!r.Success && r.Retryable):
			retry = append(retry, a)
		case !r.Success:
			b.log.Info("action rejected", "batch", batchID, "target", a.TargetUserID, "action", a.Action, "err", r.Error)
			if b.onRejected != nil {
				b.onRejected(a, r)
			}
		case r.Matched:
			if b.onMatched != nil {
				b.onMatched(a)
			}
		}
	}
	return retry
}

func (b *Batcher) requeue(actions []Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(append(make([]Action, 0, len(actions)+len(b.pending)), actions...), b.pending...)
}

// Pending returns a copy of the queue, oldest first.
func (b *Batcher) Pending() []Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Action(nil), b.pending...)
}

// Close stops accepting actions, waits for background sends and flushes
// whatever is left.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()

	b.async.Wait()
	return b.Flush(ctx)
}
