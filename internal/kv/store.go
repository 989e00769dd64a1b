// Package kv provides the key-value storage tiers settings and the ledger live in.
package kv

import (
	"context"
	"errors"

	"github.com/p-blackswan/zentab/internal/codec"
	zerrors "github.com/p-blackswan/zentab/internal/errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = zerrors.ErrNotFound

// Store is one storage tier.
type Store interface {
	// Get returns the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetValue reads key and decodes it into v. found is false when the key is absent.
func GetValue(ctx context.Context, s Store, key string, v any) (found bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetValue encodes v and stores it under key.
func SetValue(ctx context.Context, s Store, key string, v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}
