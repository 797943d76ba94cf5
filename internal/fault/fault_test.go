package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := New(NotFound, "run %d", 7)
	assert.Equal(t, NotFound, CodeOf(err))
	assert.True(t, IsCode(err, NotFound))
	assert.False(t, IsCode(err, StoreError))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, NotFound, CodeOf(wrapped))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IOFailure, cause, "write progress")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "io_failure")
	assert.Contains(t, err.Error(), "write progress")
	assert.Contains(t, err.Error(), "disk full")
}
