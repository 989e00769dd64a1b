// Package coordinator is the daemon's event loop. It turns tab lifecycle
// events into ledger updates, routing decisions and archive sweeps.
package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/zentab/internal/archive"
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/ledger"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/routing"
	"github.com/p-blackswan/zentab/internal/settings"
)

// Config holds coordinator configuration.
type Config struct {
	// EventBufferSize is the capacity of the internal event channel.
	EventBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{EventBufferSize: 256}
}

// EventSource produces lifecycle events, e.g. the extension bridge.
type EventSource interface {
	Name() string
	// Subscribe starts delivering events to out until ctx is cancelled.
	Subscribe(ctx context.Context, out chan<- host.Event) error
}

// Deps are the components the coordinator drives.
type Deps struct {
	Settings   *settings.Store
	Ledger     *ledger.Ledger
	Archiver   *archive.Archiver
	Relocator  *routing.Relocator
	Tabs       host.Tabs
	Containers host.Containers
	Metrics    *metrics.Metrics
}

// Coordinator dispatches events one at a time.
type Coordinator struct {
	config  Config
	deps    Deps
	sources []EventSource
	events  chan host.Event
	logger  zerolog.Logger

	// activeContainer is the container of the last activated tab. It is
	// only read and written by the dispatch goroutine.
	activeContainer string
}

// New creates a Coordinator.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Coordinator {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultConfig().EventBufferSize
	}
	return &Coordinator{
		config: cfg,
		deps:   deps,
		events: make(chan host.Event, cfg.EventBufferSize),
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
}

// AddSource registers an event source. Must be called before Run.
func (c *Coordinator) AddSource(src EventSource) {
	c.sources = append(c.sources, src)
}

// Submit queues ev for dispatch. It blocks while the queue is full.
func (c *Coordinator) Submit(ctx context.Context, ev host.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the sources and dispatches events until ctx is cancelled.
// Handler errors are logged; they never stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	for _, src := range c.sources {
		c.logger.Info().Str("source", src.Name()).Msg("starting event source")
		if err := src.Subscribe(ctx, c.events); err != nil {
			return fmt.Errorf("subscribing to %s: %w", src.Name(), err)
		}
	}

	c.logger.Info().Int("sources", len(c.sources)).Msg("coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("coordinator shutting down")
			return ctx.Err()
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev host.Event) {
	c.deps.Metrics.RecordEvent(string(ev.Kind))

	var err error
	switch ev.Kind {
	case host.EventStartup:
		err = c.handleStartup(ctx)
	case host.EventCreated:
		err = c.handleCreated(ctx, ev)
	case host.EventUpdated:
		err = c.handleUpdated(ctx, ev)
	case host.EventActivated:
		err = c.handleActivated(ctx, ev)
	case host.EventRemoved:
		err = c.deps.Ledger.Remove(ctx, ev.TabID)
	case host.EventAlarm:
		_, err = c.deps.Archiver.Sweep(ctx, archive.ReasonAlarm)
	default:
		c.logger.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown event")
		return
	}

	if err != nil {
		c.deps.Metrics.RecordError("coordinator", string(ev.Kind))
		c.logger.Error().Err(err).Str("kind", string(ev.Kind)).Int64("tab", ev.TabID).Msg("event handler failed")
	}
}

// handleStartup heals the ledger, migrates settings and runs a first sweep.
// Each step runs even if an earlier one failed.
func (c *Coordinator) handleStartup(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			c.logger.Error().Err(err).Msg("startup step failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	tabs, err := host.Enumerate(ctx, c.deps.Tabs, c.deps.Containers)
	if err != nil {
		keep(fmt.Errorf("listing tabs: %w", err))
	} else {
		ids := make([]int64, 0, len(tabs))
		for _, t := range tabs {
			ids = append(ids, t.ID)
		}
		keep(c.deps.Ledger.Reconcile(ctx, ids))
		if n, err := c.deps.Ledger.Len(ctx); err == nil {
			c.deps.Metrics.SetLedgerEntries(n)
		}
	}

	keep(c.deps.Settings.MigrateLocalToSynced(ctx))

	_, err = c.deps.Archiver.Sweep(ctx, archive.ReasonStartup)
	keep(err)

	return firstErr
}

func (c *Coordinator) handleCreated(ctx context.Context, ev host.Event) error {
	if ev.Tab == nil {
		return fmt.Errorf("created event without tab")
	}
	if err := c.deps.Ledger.Touch(ctx, ev.Tab.ID); err != nil {
		return err
	}
	return c.route(ctx, *ev.Tab)
}

// handleUpdated reroutes navigated tabs. Navigation does not count as
// access, so the ledger is left alone.
func (c *Coordinator) handleUpdated(ctx context.Context, ev host.Event) error {
	if !ev.URLChanged || ev.Tab == nil {
		return nil
	}
	return c.route(ctx, *ev.Tab)
}

// handleActivated sweeps when the user switches container, before the
// activated tab's access time is updated.
func (c *Coordinator) handleActivated(ctx context.Context, ev host.Event) error {
	if ev.ContainerID != "" {
		if c.activeContainer != "" && ev.ContainerID != c.activeContainer {
			c.logger.Debug().
				Str("from", c.activeContainer).
				Str("to", ev.ContainerID).
				Msg("workspace switch")
			if _, err := c.deps.Archiver.Sweep(ctx, archive.ReasonWorkspaceSwitch); err != nil {
				c.logger.Error().Err(err).Msg("workspace switch sweep failed")
			}
		}
		c.activeContainer = ev.ContainerID
	}
	return c.deps.Ledger.Touch(ctx, ev.TabID)
}

func (c *Coordinator) route(ctx context.Context, tab host.Tab) error {
	s, err := c.deps.Settings.Get(ctx)
	if err != nil {
		return err
	}
	action := routing.Route(s, tab)
	if action.Kind == routing.None {
		return nil
	}
	_, err = c.deps.Relocator.Apply(ctx, tab, action)
	return err
}

// ArchiveNow runs a sweep at the user's request and returns how many tabs
// were closed. It runs outside the event loop.
func (c *Coordinator) ArchiveNow(ctx context.Context) (int, error) {
	res, err := c.deps.Archiver.Sweep(ctx, archive.ReasonManual)
	return len(res.Closed), err
}

// ToggleSync moves the settings record between storage tiers.
func (c *Coordinator) ToggleSync(ctx context.Context, enabled bool) error {
	return c.deps.Settings.ToggleTier(ctx, enabled)
}
