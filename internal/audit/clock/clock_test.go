package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer(t *testing.T) {
	t.Run("starts at one on an empty log", func(t *testing.T) {
		s := NewSequencer(0)
		assert.Equal(t, uint64(1), s.Next())
		require.NoError(t, s.Commit(1))
		assert.Equal(t, uint64(2), s.Next())
		assert.Equal(t, uint64(1), s.Last())
	})

	t.Run("next without commit does not consume", func(t *testing.T) {
		s := NewSequencer(41)
		assert.Equal(t, uint64(42), s.Next())
		assert.Equal(t, uint64(42), s.Next())
		assert.Equal(t, uint64(41), s.Last())
	})

	t.Run("rejects out of order commits", func(t *testing.T) {
		s := NewSequencer(5)
		assert.ErrorIs(t, s.Commit(7), ErrOutOfOrder)
		assert.ErrorIs(t, s.Commit(5), ErrOutOfOrder)
		require.NoError(t, s.Commit(6))
	})
}

func TestFixed(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, at, Fixed(at)())
	assert.Equal(t, time.UTC, System().Location())
}
