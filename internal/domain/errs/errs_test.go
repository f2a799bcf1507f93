package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	base := errors.New("boom")

	fatal := Fatal("recovery.verify", CodeVerificationFailed, base)
	wrapped := fmt.Errorf("startup: %w", fatal)

	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsRecoverable(wrapped))
	assert.Equal(t, CodeVerificationFailed, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, base)

	rec := Recoverable("engine.candle", CodeMalformedCandle, nil)
	assert.True(t, IsRecoverable(rec))
	assert.False(t, IsFatal(rec))
	assert.Equal(t, "engine.candle: malformed_candle", rec.Error())
}

func TestPlainErrorsHaveNoCode(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsFatal(err))
	assert.False(t, IsRecoverable(err))
	assert.Empty(t, CodeOf(err))
}
