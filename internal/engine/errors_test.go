package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	err := newStoreError("abc", "put message", errors.New("disk full"))
	assert.Equal(t, "STORE_FAILURE: put message failed (hash=abc): disk full", err.Error())
	assert.Equal(t, "QUEUE_CLOSED: engine is not accepting messages", newQueueClosedError().Error())
}

func TestRuntimeError_Classification(t *testing.T) {
	cause := errors.New("io")
	wrapped := fmt.Errorf("ingest: %w", newStoreError("h", "apply POST", cause))

	assert.True(t, IsStoreError(wrapped))
	assert.False(t, IsQueueClosedError(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	assert.True(t, IsQueueClosedError(newQueueClosedError()))
	assert.False(t, IsStoreError(cause))
}
