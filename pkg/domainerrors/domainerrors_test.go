package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesExistingCode(t *testing.T) {
	base := New(CodeConflict, "realm exists")
	wrapped := Wrap(base, CodeInternal, "provisioning failed")

	assert.True(t, HasCode(wrapped, CodeConflict))
	assert.Equal(t, "provisioning failed", wrapped.Error())
	assert.True(t, errors.Is(wrapped, New(CodeConflict, "")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("ctx: %w", New(CodeNotFound, "x"))))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeUnavailable, "down")))
	assert.False(t, Retryable(New(CodeConflict, "dup")))
	assert.False(t, Retryable(New(CodeAdminUnauthenticated, "bad creds")))
}
