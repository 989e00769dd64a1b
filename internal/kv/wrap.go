package kv

import (
	"context"
	"fmt"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/retry"
)

// QuotaStore rejects writes whose key plus value exceed a per-item byte
// budget, mirroring the item quota browser sync storage enforces.
type QuotaStore struct {
	Store
	PerItem int
}

// NewQuotaStore wraps s. perItem <= 0 disables the check.
func NewQuotaStore(s Store, perItem int) *QuotaStore {
	return &QuotaStore{Store: s, PerItem: perItem}
}

func (q *QuotaStore) Set(ctx context.Context, key string, value []byte) error {
	if q.PerItem > 0 && len(key)+len(value) > q.PerItem {
		return fmt.Errorf("%w: %q is %d bytes, limit %d", zerrors.ErrQuotaExceeded, key, len(key)+len(value), q.PerItem)
	}
	return q.Store.Set(ctx, key, value)
}

// RetryStore retries transient write failures with backoff.
type RetryStore struct {
	Store
	cfg retry.Config
}

// NewRetryStore wraps s with the given retry configuration.
func NewRetryStore(s Store, cfg retry.Config) *RetryStore {
	return &RetryStore{Store: s, cfg: cfg}
}

func (r *RetryStore) Set(ctx context.Context, key string, value []byte) error {
	return retry.Do(ctx, r.cfg, func(ctx context.Context) error {
		return r.Store.Set(ctx, key, value)
	})
}

func (r *RetryStore) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, r.cfg, func(ctx context.Context) error {
		return r.Store.Delete(ctx, key)
	})
}
