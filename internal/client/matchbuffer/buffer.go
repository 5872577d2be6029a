// Package matchbuffer holds the candidates a client has fetched but not yet
// decided on, and hands decisions to the action queue.
package matchbuffer

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/oggyb/studymatch/internal/client/batcher"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
)

var ErrInvalidAction = errors.New("action must be LIKE or PASS")

// ActionQueue receives decisions. *batcher.Batcher satisfies it.
type ActionQueue interface {
	Enqueue(batcher.Action) error
}

type Buffer struct {
	queue ActionQueue
	log   *slog.Logger

	mu      sync.Mutex
	items   []*matchrpc.Candidate
	cursor  int
	decided map[string]struct{}
}

func New(queue ActionQueue) *Buffer {
	return &Buffer{
		queue:   queue,
		log:     logger.L(),
		decided: map[string]struct{}{},
	}
}

// AddMatches appends candidates not already buffered or decided this
// session, and returns how many were added.
func (b *Buffer) AddMatches(batch []*matchrpc.Candidate) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.items))
	for _, c := range b.items {
		seen[c.UserID] = struct{}{}
	}

	added := 0
	for _, c := range batch {
		if c == nil {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		if _, done := b.decided[c.UserID]; done {
			continue
		}
		seen[c.UserID] = struct{}{}
		b.items = append(b.items, c)
		added++
	}
	return added
}

// GetNext returns up to count candidates from the cursor and advances it.
// A count of zero peeks at everything remaining without advancing.
func (b *Buffer) GetNext(count int) []*matchrpc.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := b.items[b.cursor:]
	if count <= 0 {
		return append([]*matchrpc.Candidate(nil), rest...)
	}
	n := min(count, len(rest))
	out := append([]*matchrpc.Candidate(nil), rest[:n]...)
	b.cursor += n
	return out
}

func (b *Buffer) RemainingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) - b.cursor
}

// Len is the number of buffered candidates, consumed or not.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// ProcessAction records a decision on userID. The candidate leaves the
// buffer; when it sat before the cursor the cursor moves back one so the
// next candidate served is unchanged. The decision is then queued. A repeat
// decision on the same user is ignored.
func (b *Buffer) ProcessAction(userID, action string) error {
	if action != matchrpc.ActionLike && action != matchrpc.ActionPass {
		return ErrInvalidAction
	}

	b.mu.Lock()
	if _, done := b.decided[userID]; done {
		b.mu.Unlock()
		return nil
	}
	for i, c := range b.items {
		if c.UserID != userID {
			continue
		}
		b.items = append(b.items[:i:i], b.items[i+1:]...)
		if i < b.cursor {
			b.cursor--
		}
		break
	}
	b.decided[userID] = struct{}{}
	b.mu.Unlock()

	if err := b.queue.Enqueue(batcher.Action{TargetUserID: userID, Action: action}); err != nil {
		b.mu.Lock()
		delete(b.decided, userID)
		b.mu.Unlock()
		b.log.Warn("could not queue action", "target", userID, "action", action, "err", err)
		return err
	}
	return nil
}

// Forget drops userID from the decided set, e.g. after the server rejected
// the decision.
func (b *Buffer) Forget(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.decided, userID)
}

// Clear empties the buffer and the decided set.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.cursor = 0
	b.decided = map[string]struct{}{}
}
