package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	tok, err := Encode(Cursor{ID: 7, UpdatedUnixNano: 1700000000123456789})
	require.NoError(t, err)

	c, err := Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c.ID)
	assert.Equal(t, int64(1700000000123456789), c.UpdatedUnixNano)
}

func TestDecodeEmptyAndGarbage(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	_, err = Decode("%%%")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
