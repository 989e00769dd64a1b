package settings

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/kv"
)

// Storage keys. KeySettings lives in the selected tier; the rest are local only.
const (
	KeySettings          = "settings"
	KeyUseSyncStorage    = "useSyncStorage"
	KeyMigrationComplete = "migrationComplete"
)

// Tier identifies a storage backend.
type Tier int

const (
	TierLocal Tier = iota
	TierSynced
)

func (t Tier) String() string {
	if t == TierSynced {
		return "sync"
	}
	return "local"
}

// Store reads and writes the settings record in whichever tier the
// device-local selector points at.
type Store struct {
	mu     sync.Mutex
	local  kv.Store
	synced kv.Store
	logger zerolog.Logger
}

// NewStore creates a settings store over the two tiers.
func NewStore(local, synced kv.Store, logger zerolog.Logger) *Store {
	return &Store{
		local:  local,
		synced: synced,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// ResolveTier reports which tier holds the settings record. The selector
// is always read from the local tier; unset means synced.
func (s *Store) ResolveTier(ctx context.Context) (Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveTier(ctx)
}

// Get returns the stored settings, or Defaults when none are stored.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx)
}

// Put writes settings to the selected tier, then mirrors its
// UseSyncStorage value into the local selector.
func (s *Store) Put(ctx context.Context, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, settings)
}

// Reset replaces the stored settings with Defaults.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, Defaults())
}

// Exists reports whether a settings record is stored in the selected tier.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, err := s.resolveTier(ctx)
	if err != nil {
		return false, err
	}
	var rec Settings
	found, err := kv.GetValue(ctx, s.tierStore(tier), KeySettings, &rec)
	if err != nil {
		return false, zerrors.NewStorageError(tier.String(), "get", KeySettings, err)
	}
	return found, nil
}

// MigrateLocalToSynced copies a settings record written by a local-only
// version into the synced tier. It runs at most once per device: after the
// first completed call, later calls only read the migration flag.
//
// A failed synced write is not returned. The local record is switched to
// local-only storage instead so the user's settings stay readable.
func (s *Store) MigrateLocalToSynced(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done bool
	found, err := kv.GetValue(ctx, s.local, KeyMigrationComplete, &done)
	if err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "get", KeyMigrationComplete, err)
	}
	if found && done {
		return nil
	}

	rec := Defaults()
	found, err = kv.GetValue(ctx, s.local, KeySettings, &rec)
	if err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "get", KeySettings, err)
	}
	if !found {
		s.logger.Debug().Msg("no local settings to migrate")
		return s.markMigrated(ctx)
	}

	if rec.SyncEnabled() {
		if err := kv.SetValue(ctx, s.synced, KeySettings, rec); err != nil {
			s.logger.Warn().Err(err).Msg("sync write failed during migration, keeping settings local")
			rec = rec.WithSync(false)
			if err := kv.SetValue(ctx, s.local, KeySettings, rec); err != nil {
				return zerrors.NewStorageError(TierLocal.String(), "set", KeySettings, err)
			}
		} else {
			s.logger.Info().Msg("local settings migrated to sync storage")
		}
	}

	if err := kv.SetValue(ctx, s.local, KeyUseSyncStorage, rec.SyncEnabled()); err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "set", KeyUseSyncStorage, err)
	}
	return s.markMigrated(ctx)
}

// ToggleTier moves the settings record between tiers at the user's request.
// Disabling sync also deletes the synced copy so another device cannot pick
// up stale settings later. On error the selector is left unchanged.
func (s *Store) ToggleTier(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ctx)
	if err != nil {
		return err
	}
	current = current.WithSync(enabled)

	if enabled {
		if err := kv.SetValue(ctx, s.synced, KeySettings, current); err != nil {
			return zerrors.NewStorageError(TierSynced.String(), "set", KeySettings, err)
		}
	} else {
		if err := kv.SetValue(ctx, s.local, KeySettings, current); err != nil {
			return zerrors.NewStorageError(TierLocal.String(), "set", KeySettings, err)
		}
		if err := s.synced.Delete(ctx, KeySettings); err != nil {
			return zerrors.NewStorageError(TierSynced.String(), "delete", KeySettings, err)
		}
	}

	if err := kv.SetValue(ctx, s.local, KeyUseSyncStorage, enabled); err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "set", KeyUseSyncStorage, err)
	}

	s.logger.Info().Bool("sync", enabled).Msg("settings storage tier changed")
	return nil
}

func (s *Store) resolveTier(ctx context.Context) (Tier, error) {
	var useSync bool
	found, err := kv.GetValue(ctx, s.local, KeyUseSyncStorage, &useSync)
	if err != nil {
		return TierLocal, zerrors.NewStorageError(TierLocal.String(), "get", KeyUseSyncStorage, err)
	}
	if !found || useSync {
		return TierSynced, nil
	}
	return TierLocal, nil
}

func (s *Store) get(ctx context.Context) (Settings, error) {
	tier, err := s.resolveTier(ctx)
	if err != nil {
		return Settings{}, err
	}
	rec := Defaults()
	if _, err := kv.GetValue(ctx, s.tierStore(tier), KeySettings, &rec); err != nil {
		return Settings{}, zerrors.NewStorageError(tier.String(), "get", KeySettings, err)
	}
	return rec.normalized(), nil
}

func (s *Store) put(ctx context.Context, settings Settings) error {
	tier, err := s.resolveTier(ctx)
	if err != nil {
		return err
	}
	settings = settings.normalized()
	if err := kv.SetValue(ctx, s.tierStore(tier), KeySettings, settings); err != nil {
		return zerrors.NewStorageError(tier.String(), "set", KeySettings, err)
	}
	if err := kv.SetValue(ctx, s.local, KeyUseSyncStorage, settings.SyncEnabled()); err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "set", KeyUseSyncStorage, err)
	}
	return nil
}

func (s *Store) markMigrated(ctx context.Context) error {
	if err := kv.SetValue(ctx, s.local, KeyMigrationComplete, true); err != nil {
		return zerrors.NewStorageError(TierLocal.String(), "set", KeyMigrationComplete, err)
	}
	return nil
}

func (s *Store) tierStore(t Tier) kv.Store {
	if t == TierSynced {
		return s.synced
	}
	return s.local
}
