package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	t.Run("new error carries code and message", func(t *testing.T) {
		err := New(CodeValidation, "bond term must be one of 3, 6, 12, 18, 24")
		assert.Equal(t, CodeValidation, CodeOf(err))
		assert.Equal(t, "bond term must be one of 3, 6, 12, 18, 24", MessageOf(err))
		assert.True(t, Is(err, CodeValidation))
	})

	t.Run("wrap keeps underlying error reachable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeSubmissionFailed, "ledger unavailable")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, CodeSubmissionFailed, CodeOf(err))
	})

	t.Run("wrap of nil is nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("has code searches nested coded errors", func(t *testing.T) {
		inner := New(CodeConflict, "already in progress")
		outer := Wrap(fmt.Errorf("begin: %w", inner), CodeInternal, "verification")
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeInternal))
		assert.False(t, HasCode(outer, CodeNotFound))
	})

	t.Run("uncoded errors map to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, Is(nil, CodeInternal))
	})
}
