package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/studymatch/internal/testutil"
)

func TestLastActive(t *testing.T) {
	ctx := context.Background()
	rc, mr := testutil.NewRedis(t)

	at := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, rc.SetLastActive(ctx, 7, at, time.Hour))
	require.NoError(t, rc.Client.Set(ctx, rc.KeyForLastActive(9), "not-a-number", time.Hour).Err())

	hits, misses, err := rc.GetLastActive(ctx, []uint64{7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, at, hits[7])
	assert.ElementsMatch(t, []uint64{8, 9}, misses)

	// TTL applied
	assert.Equal(t, time.Hour, mr.TTL(rc.KeyForLastActive(7)))

	require.NoError(t, rc.ClearLastActive(ctx, 7))
	hits, misses, err = rc.GetLastActive(ctx, []uint64{7})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, []uint64{7}, misses)
}
