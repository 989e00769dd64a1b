package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/metrics"
)

// Relocator carries out Relocate actions. The host cannot move a tab
// between containers, so the tab is reopened in the target container next
// to the original and the original is closed.
type Relocator struct {
	tabs    host.Tabs
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRelocator creates a Relocator. m may be nil.
func NewRelocator(tabs host.Tabs, m *metrics.Metrics, logger zerolog.Logger) *Relocator {
	return &Relocator{
		tabs:    tabs,
		metrics: m,
		logger:  logger.With().Str("component", "relocator").Logger(),
	}
}

// Apply performs action for tab and returns the replacement tab. For None
// it returns tab unchanged. If the replacement cannot be created the
// original is left open and the error returned. A failure to close the
// original after a successful create is logged only.
func (r *Relocator) Apply(ctx context.Context, tab host.Tab, action Action) (host.Tab, error) {
	if action.Kind != Relocate {
		return tab, nil
	}

	created, err := r.tabs.Create(ctx, host.CreateTab{
		URL:         tab.URL,
		ContainerID: action.Target,
		Active:      tab.Active,
		Index:       tab.Index + 1,
		WindowID:    tab.WindowID,
	})
	if err != nil {
		r.metrics.RecordRelocation("create_failed")
		return tab, fmt.Errorf("opening tab %d in container %q: %w", tab.ID, action.Target, err)
	}

	if err := r.tabs.Remove(ctx, []int64{tab.ID}); err != nil {
		r.metrics.RecordRelocation("remove_failed")
		r.logger.Warn().Err(err).Int64("tab", tab.ID).Int64("replacement", created.ID).Msg("relocated tab but could not close the original")
		return created, nil
	}

	r.metrics.RecordRelocation("ok")
	r.logger.Info().
		Int64("tab", tab.ID).
		Int64("replacement", created.ID).
		Str("from", tab.ContainerID).
		Str("to", action.Target).
		Msg("tab relocated")
	return created, nil
}
