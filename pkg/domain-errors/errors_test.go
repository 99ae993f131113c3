package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code", func(t *testing.T) {
		err := New(CodeValidation, "actor.id is required")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("log: %w", New(CodePersistence, "persist failed"))
		assert.True(t, HasCode(err, CodePersistence))
		assert.Equal(t, CodePersistence, CodeOf(err))
	})

	t.Run("nested domain errors", func(t *testing.T) {
		inner := New(CodeSigning, "key provider unavailable")
		outer := Wrap(inner, CodeInternal, "append aborted")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeSigning))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodePersistence, "failed to persist entry")
	assert.Equal(t, "failed to persist entry: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
