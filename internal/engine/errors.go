package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/zkfold/internal/message"
)

// RuntimeError represents a failure while applying a message.
//
// Malformed input is not an error: it surfaces as the Dropped outcome.
// RuntimeError covers the engine's own failures:
//   - Queue closed: Submit after Close, or pending work at shutdown
//   - Store failure: a read or write against the store failed
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Hash identifies the message being applied, if any.
	Hash message.Hash

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQueueClosed indicates the engine no longer accepts work.
	ErrCodeQueueClosed RuntimeErrorCode = "QUEUE_CLOSED"

	// ErrCodeStoreFailure indicates a store read or write failed.
	ErrCodeStoreFailure RuntimeErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Hash != "" {
		msg = fmt.Sprintf("%s (hash=%s)", msg, e.Hash)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsQueueClosedError reports whether err is a queue-closed RuntimeError.
// Uses errors.As to handle wrapped errors.
func IsQueueClosedError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQueueClosed
	}
	return false
}

// IsStoreError reports whether err is a store-failure RuntimeError.
func IsStoreError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStoreFailure
	}
	return false
}

func newQueueClosedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQueueClosed,
		Message: "engine is not accepting messages",
	}
}

func newStoreError(hash message.Hash, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStoreFailure,
		Message: op + " failed",
		Hash:    hash,
		Details: map[string]string{"op": op},
		Err:     err,
	}
}
