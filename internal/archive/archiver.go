package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/ledger"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/settings"
)

// Sweep trigger reasons.
const (
	ReasonStartup         = "startup"
	ReasonAlarm           = "alarm"
	ReasonManual          = "manual"
	ReasonWorkspaceSwitch = "workspace_switch"
)

// SettingsSource provides the current settings.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// LedgerSource provides a point-in-time copy of the access ledger.
type LedgerSource interface {
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
}

// SweepResult describes one sweep.
type SweepResult struct {
	Reason     string
	Candidates []int64 // every tab examined
	Closed     []int64 // tabs removed
}

// Archiver closes idle tabs. Sweeps may run concurrently: each one reads
// fresh state and removing an already closed tab is harmless.
type Archiver struct {
	settings   SettingsSource
	ledger     LedgerSource
	tabs       host.Tabs
	containers host.Containers
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     zerolog.Logger
}

// NewArchiver creates an Archiver. containers and m may be nil.
func NewArchiver(s SettingsSource, l LedgerSource, tabs host.Tabs, containers host.Containers, m *metrics.Metrics, logger zerolog.Logger) *Archiver {
	return &Archiver{
		settings:   s,
		ledger:     l,
		tabs:       tabs,
		containers: containers,
		metrics:    m,
		now:        time.Now,
		logger:     logger.With().Str("component", "archiver").Logger(),
	}
}

// SetClock overrides the time source.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Sweep closes every tab Evaluate selects.
func (a *Archiver) Sweep(ctx context.Context, reason string) (SweepResult, error) {
	start := time.Now()
	res, err := a.sweep(ctx, reason)

	result := "ok"
	if err != nil {
		result = "error"
		a.metrics.RecordError("archive", "sweep")
	}
	a.metrics.RecordSweep(reason, result, len(res.Closed), time.Since(start).Seconds())
	return res, err
}

func (a *Archiver) sweep(ctx context.Context, reason string) (SweepResult, error) {
	res := SweepResult{Reason: reason}

	s, err := a.settings.Get(ctx)
	if err != nil {
		return res, fmt.Errorf("loading settings: %w", err)
	}
	if !s.ArchiveEnabled {
		a.logger.Debug().Str("reason", reason).Msg("archiving disabled, skipping sweep")
		return res, nil
	}
	if s.ArchiveThreshold() <= 0 {
		a.logger.Warn().Float64("archive_after_hours", s.ArchiveAfterHours).Msg("non-positive archive threshold, skipping sweep")
		return res, nil
	}

	snap, err := a.ledger.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("reading ledger: %w", err)
	}
	a.metrics.SetLedgerEntries(len(snap))

	tabs, err := host.Enumerate(ctx, a.tabs, a.containers)
	if err != nil {
		return res, fmt.Errorf("listing tabs: %w", err)
	}
	for _, t := range tabs {
		res.Candidates = append(res.Candidates, t.ID)
	}

	closing := Evaluate(s, snap, a.now(), tabs)
	if len(closing) == 0 {
		a.logger.Debug().Str("reason", reason).Int("tabs", len(tabs)).Msg("no idle tabs")
		return res, nil
	}

	if err := a.tabs.Remove(ctx, closing); err != nil {
		return res, fmt.Errorf("closing %d idle tabs: %w", len(closing), err)
	}
	res.Closed = closing

	a.logger.Info().Str("reason", reason).Int("closed", len(closing)).Int("tabs", len(tabs)).Msg("idle tabs archived")
	return res, nil
}

// Run sweeps every interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", interval).Msg("archive timer started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("archive timer stopped")
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx, ReasonAlarm); err != nil {
				a.logger.Error().Err(err).Msg("periodic sweep failed")
			}
		}
	}
}
