package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errLimit = New(KindPolicy, "limit_exceeded")

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindPolicy, KindOf(errLimit))
	assert.Equal(t, KindPolicy, KindOf(fmt.Errorf("quota: %w", errLimit)))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.True(t, Is(Validation(errors.New("bad")), KindValidation))
}

func TestWithKeepsChain(t *testing.T) {
	base := errors.New("invalid_currency")
	wrapped := Validation(base)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "invalid_currency", wrapped.Error())
	assert.Nil(t, With(KindTransient, nil))
	assert.ErrorIs(t, fmt.Errorf("outer: %w", errLimit), errLimit)
}
