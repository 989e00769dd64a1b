// Package errors provides structured error types for zentab.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrUnavailable   = errors.New("service unavailable")
	ErrTimeout       = errors.New("operation timed out")
	ErrInvalidInput  = errors.New("invalid input")
)

// StorageError describes a failed operation against one storage tier.
type StorageError struct {
	Tier string // "local" or "sync"
	Op   string // "get", "set", "delete"
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage %s %q: %v", e.Tier, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err with tier/op/key context. A nil err stays nil.
func NewStorageError(tier, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Tier: tier, Op: op, Key: key, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// Quota errors are permanent until the user frees space.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
