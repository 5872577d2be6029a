package matchbuffer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/studymatch/internal/client/batcher"
	"github.com/oggyb/studymatch/internal/client/matchbuffer"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
)

type queue struct {
	actions []batcher.Action
	err     error
}

func (q *queue) Enqueue(a batcher.Action) error {
	if q.err != nil {
		return q.err
	}
	q.actions = append(q.actions, a)
	return nil
}

func cands(ids ...int) []*matchrpc.Candidate {
	out := make([]*matchrpc.Candidate, len(ids))
	for i, id := range ids {
		out[i] = &matchrpc.Candidate{UserID: fmt.Sprint(id), Score: 80}
	}
	return out
}

func ids(cs []*matchrpc.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.UserID
	}
	return out
}

func TestAddMatchesDedupes(t *testing.T) {
	b := matchbuffer.New(&queue{})
	assert.Equal(t, 3, b.AddMatches(cands(1, 2, 3)))
	assert.Equal(t, 1, b.AddMatches(cands(2, 3, 4, 4)))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(b.GetNext(0)))
}

func TestGetNextAdvancesAndPeeks(t *testing.T) {
	b := matchbuffer.New(&queue{})
	b.AddMatches(cands(1, 2, 3, 4, 5))

	assert.Equal(t, []string{"1", "2"}, ids(b.GetNext(2)))
	assert.Equal(t, 3, b.RemainingCount())
	assert.Equal(t, []string{"3", "4", "5"}, ids(b.GetNext(0)))
	assert.Equal(t, 3, b.RemainingCount())
	assert.Equal(t, []string{"3", "4", "5"}, ids(b.GetNext(10)))
	assert.Zero(t, b.RemainingCount())
	assert.Empty(t, b.GetNext(1))
}

func TestProcessActionKeepsNextCandidate(t *testing.T) {
	q := &queue{}
	b := matchbuffer.New(q)
	b.AddMatches(cands(1, 2, 3, 4, 5))
	b.GetNext(2) // cursor at 3

	// decided candidate was already served
	require.NoError(t, b.ProcessAction("1", matchrpc.ActionLike))
	assert.Equal(t, []string{"3", "4", "5"}, ids(b.GetNext(0)))

	// deciding one ahead of the cursor does not re-serve anything
	require.NoError(t, b.ProcessAction("4", matchrpc.ActionPass))
	assert.Equal(t, []string{"3", "5"}, ids(b.GetNext(0)))
	assert.Equal(t, 2, b.RemainingCount())

	require.Len(t, q.actions, 2)
	assert.Equal(t, batcher.Action{TargetUserID: "1", Action: matchrpc.ActionLike}, q.actions[0])
	assert.Equal(t, "PASS", q.actions[1].Action)
}

func TestDecidedUsersAreNotReAdded(t *testing.T) {
	q := &queue{}
	b := matchbuffer.New(q)
	b.AddMatches(cands(1, 2))
	require.NoError(t, b.ProcessAction("1", matchrpc.ActionLike))
	require.NoError(t, b.ProcessAction("1", matchrpc.ActionLike))
	assert.Len(t, q.actions, 1)

	assert.Zero(t, b.AddMatches(cands(1)))
	b.Forget("1")
	assert.Equal(t, 1, b.AddMatches(cands(1)))
}

func TestProcessActionValidationAndQueueErrors(t *testing.T) {
	q := &queue{err: errors.New("closed")}
	b := matchbuffer.New(q)
	b.AddMatches(cands(1))

	assert.ErrorIs(t, b.ProcessAction("1", "SUPERLIKE"), matchbuffer.ErrInvalidAction)
	assert.Error(t, b.ProcessAction("1", matchrpc.ActionLike))

	// a failed enqueue leaves the user decidable again
	q.err = nil
	require.NoError(t, b.ProcessAction("1", matchrpc.ActionLike))
	assert.Len(t, q.actions, 1)
}

func TestRejectedDecisionIsForgotten(t *testing.T) {
	sender := batcher.SenderFunc(func(_ context.Context, _ string, actions []batcher.Action) ([]batcher.Result, error) {
		out := make([]batcher.Result, len(actions))
		for i, a := range actions {
			out[i] = batcher.Result{TargetUserID: a.TargetUserID, Success: a.TargetUserID != "2", Error: "match already exists"}
		}
		return out, nil
	})

	var b *matchbuffer.Buffer
	var rejected []string
	q := batcher.New(sender, batcher.WithSize(100), batcher.WithOnRejected(func(a batcher.Action, _ batcher.Result) {
		rejected = append(rejected, a.TargetUserID)
		b.Forget(a.TargetUserID)
	}))
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	b = matchbuffer.New(q)

	b.AddMatches(cands(1, 2, 3))
	require.NoError(t, b.ProcessAction("1", matchrpc.ActionLike))
	require.NoError(t, b.ProcessAction("2", matchrpc.ActionLike))
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, []string{"2"}, rejected)
	// 2 may be offered again, 1 stays decided
	assert.Equal(t, 1, b.AddMatches(cands(1, 2)))
	assert.Equal(t, []string{"3", "2"}, ids(b.GetNext(0)))
}

func TestClear(t *testing.T) {
	b := matchbuffer.New(&queue{})
	b.AddMatches(cands(1, 2, 3))
	b.GetNext(1)
	require.NoError(t, b.ProcessAction("2", matchrpc.ActionPass))
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Zero(t, b.RemainingCount())
	assert.Equal(t, 3, b.AddMatches(cands(1, 2, 3)))
}
