// Package ledger records when each tab was last activated by the user.
//
// The ledger lives in the device-local tier under a single key. Tab ids are
// reused by the browser after a tab closes, so entries must be removed on
// close and reconciled against the live tab set at startup.
package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/kv"
)

// Key is the local-tier key holding the ledger.
const Key = "tabAccessTimes"

// Ledger maps tab id to last access time.
type Ledger struct {
	mu     sync.Mutex
	store  kv.Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger persisted in store.
func New(store kv.Store, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Touch records now as the last access time of tab id.
func (l *Ledger) Touch(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return err
	}
	entries[key(id)] = l.now().UnixMilli()
	return l.save(ctx, entries)
}

// Remove forgets tab id. Removing an unknown id is a no-op.
func (l *Ledger) Remove(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := entries[key(id)]; !ok {
		return nil
	}
	delete(entries, key(id))
	return l.save(ctx, entries)
}

// Reconcile makes the ledger cover exactly live: missing ids are recorded
// as accessed now and entries for closed tabs are dropped.
func (l *Ledger) Reconcile(ctx context.Context, live []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return err
	}

	now := l.now().UnixMilli()
	keep := make(map[string]int64, len(live))
	added := 0
	for _, id := range live {
		k := key(id)
		if ts, ok := entries[k]; ok {
			keep[k] = ts
			continue
		}
		keep[k] = now
		added++
	}
	dropped := 0
	for k := range entries {
		if _, ok := keep[k]; !ok {
			dropped++
		}
	}

	l.logger.Debug().Int("added", added).Int("dropped", dropped).Int("size", len(keep)).Msg("ledger reconciled")
	return l.save(ctx, keep)
}

// LastAccess returns the last access time of tab id, or fallback when the
// tab is unknown.
func (l *Ledger) LastAccess(ctx context.Context, id int64, fallback time.Time) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	ts, ok := entries[key(id)]
	if !ok {
		return fallback, nil
	}
	return time.UnixMilli(ts), nil
}

// Snapshot returns a copy of every entry.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(Snapshot, len(entries))
	for k, ts := range entries {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			l.logger.Warn().Str("key", k).Msg("skipping malformed ledger entry")
			continue
		}
		out[id] = time.UnixMilli(ts)
	}
	return out, nil
}

// Len returns the number of tracked tabs.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (l *Ledger) load(ctx context.Context) (map[string]int64, error) {
	entries := make(map[string]int64)
	if _, err := kv.GetValue(ctx, l.store, Key, &entries); err != nil {
		return nil, zerrors.NewStorageError("local", "get", Key, err)
	}
	if entries == nil {
		entries = make(map[string]int64)
	}
	return entries, nil
}

func (l *Ledger) save(ctx context.Context, entries map[string]int64) error {
	if err := kv.SetValue(ctx, l.store, Key, entries); err != nil {
		return zerrors.NewStorageError("local", "set", Key, err)
	}
	return nil
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// Snapshot is a point-in-time copy of the ledger.
type Snapshot map[int64]time.Time

// LastAccess implements archive.LastAccessor over the snapshot.
func (s Snapshot) LastAccess(id int64, fallback time.Time) time.Time {
	if ts, ok := s[id]; ok {
		return ts
	}
	return fallback
}
