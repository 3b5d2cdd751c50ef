package conform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError(t *testing.T) {
	cause := errors.New("workspace parent is read-only")
	err := fmt.Errorf("setup: %w", NewRuntimeError(cause))

	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsTestFailureError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "setup: runtime error: workspace parent is read-only", err.Error())
	assert.False(t, IsRuntimeError(nil))
}

func TestTestFailureError(t *testing.T) {
	err := errors.Join(errors.New("failed to start"), NewTestFailureError(3, 10))

	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "3 of 10 test cases failed")
	assert.False(t, IsTestFailureError(nil))
}
