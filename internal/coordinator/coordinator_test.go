package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/zentab/internal/archive"
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/host/hosttest"
	"github.com/p-blackswan/zentab/internal/kv"
	"github.com/p-blackswan/zentab/internal/ledger"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/routing"
	"github.com/p-blackswan/zentab/internal/settings"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	coord    *Coordinator
	browser  *hosttest.Browser
	ledger   *ledger.Ledger
	settings *settings.Store
	local    *kv.MemoryStore
	synced   *kv.MemoryStore
	clock    *clock
}

func newFixture(t *testing.T, tabs ...host.Tab) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	m := metrics.New()
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}

	local, synced := kv.NewMemoryStore(), kv.NewMemoryStore()
	st := settings.NewStore(local, synced, logger)
	s := settings.Defaults()
	s.ArchiveAfterHours = 1
	s.WorkspaceRules = []settings.Rule{{Pattern: "*.bank.com", WorkspaceID: "bank"}}
	require.NoError(t, st.Put(context.Background(), s))

	b := hosttest.NewBrowser(tabs...)
	l := ledger.New(local, logger, ledger.WithClock(c.now))
	a := archive.NewArchiver(st, l, b, b, m, logger)
	a.SetClock(c.now)

	coord := New(DefaultConfig(), Deps{
		Settings:   st,
		Ledger:     l,
		Archiver:   a,
		Relocator:  routing.NewRelocator(b, m, logger),
		Tabs:       b,
		Containers: b,
		Metrics:    m,
	}, logger)

	return &fixture{coord: coord, browser: b, ledger: l, settings: st, local: local, synced: synced, clock: c}
}

func (f *fixture) lastAccess(t *testing.T, id int64) (time.Time, bool) {
	t.Helper()
	snap, err := f.ledger.Snapshot(context.Background())
	require.NoError(t, err)
	ts, ok := snap[id]
	return ts, ok
}

func TestStartup_ReconcilesMigratesAndSweeps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, host.Tab{ID: 1}, host.Tab{ID: 2})

	// Stale entry for a closed tab and an idle entry for tab 2.
	require.NoError(t, f.ledger.Touch(ctx, 99))
	require.NoError(t, f.ledger.Touch(ctx, 2))
	f.clock.advance(2 * time.Hour)

	f.coord.dispatch(ctx, host.Event{Kind: host.EventStartup})

	_, tracked := f.lastAccess(t, 99)
	assert.False(t, tracked, "closed tab dropped")
	ts, tracked := f.lastAccess(t, 1)
	assert.True(t, tracked)
	assert.True(t, ts.Equal(f.clock.t), "unseen tab stamped now")

	assert.Equal(t, []int64{1}, f.browser.IDs(), "idle tab 2 archived")

	var migrated bool
	found, err := kv.GetValue(ctx, f.local, settings.KeyMigrationComplete, &migrated)
	require.NoError(t, err)
	assert.True(t, found && migrated)
}

func TestCreated_TouchesAndRoutes(t *testing.T) {
	ctx := context.Background()
	tab := host.Tab{ID: 5, URL: "https://pay.bank.com", ContainerID: "default", Index: 2}
	f := newFixture(t, tab)

	f.coord.dispatch(ctx, host.Event{Kind: host.EventCreated, Tab: &tab})

	_, tracked := f.lastAccess(t, 5)
	assert.True(t, tracked)
	require.Len(t, f.browser.Created, 1)
	assert.Equal(t, "bank", f.browser.Created[0].ContainerID)
	assert.Equal(t, 3, f.browser.Created[0].Index)
	_, open := f.browser.Tab(5)
	assert.False(t, open)
}

func TestCreated_NoRuleMatch(t *testing.T) {
	tab := host.Tab{ID: 5, URL: "https://news.com"}
	f := newFixture(t, tab)
	f.coord.dispatch(context.Background(), host.Event{Kind: host.EventCreated, Tab: &tab})
	assert.Empty(t, f.browser.Created)
}

func TestUpdated_RoutesWithoutTouching(t *testing.T) {
	ctx := context.Background()
	tab := host.Tab{ID: 5, URL: "https://news.com"}
	f := newFixture(t, tab)
	require.NoError(t, f.ledger.Touch(ctx, 5))
	before, _ := f.lastAccess(t, 5)
	f.clock.advance(time.Minute)

	tab.URL = "https://pay.bank.com"
	f.coord.dispatch(ctx, host.Event{Kind: host.EventUpdated, TabID: 5, URLChanged: true, Tab: &tab})

	require.Len(t, f.browser.Created, 1)
	after, _ := f.lastAccess(t, 5)
	assert.True(t, after.Equal(before), "navigation is not access")
}

func TestUpdated_IgnoresNonURLChanges(t *testing.T) {
	tab := host.Tab{ID: 5, URL: "https://pay.bank.com"}
	f := newFixture(t, tab)
	f.coord.dispatch(context.Background(), host.Event{Kind: host.EventUpdated, TabID: 5, Tab: &tab})
	assert.Empty(t, f.browser.Created)
}

func TestActivated_SameContainerDoesNotSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, host.Tab{ID: 1, ContainerID: "a"}, host.Tab{ID: 2, ContainerID: "a"})
	require.NoError(t, f.ledger.Touch(ctx, 1))
	require.NoError(t, f.ledger.Touch(ctx, 2))

	f.coord.dispatch(ctx, host.Event{Kind: host.EventActivated, TabID: 1, ContainerID: "a"})
	f.clock.advance(2 * time.Hour)
	f.coord.dispatch(ctx, host.Event{Kind: host.EventActivated, TabID: 2, ContainerID: "a"})

	assert.Empty(t, f.browser.Removed)
	ts, _ := f.lastAccess(t, 2)
	assert.True(t, ts.Equal(f.clock.t))
}

func TestActivated_WorkspaceSwitchSweepsBeforeTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		host.Tab{ID: 1, ContainerID: "a"},
		host.Tab{ID: 2, ContainerID: "b"},
		host.Tab{ID: 3, ContainerID: "b"},
	)
	require.NoError(t, f.ledger.Touch(ctx, 2))
	f.coord.dispatch(ctx, host.Event{Kind: host.EventActivated, TabID: 1, ContainerID: "a"})
	f.clock.advance(90 * time.Minute)
	require.NoError(t, f.ledger.Touch(ctx, 3))
	f.clock.advance(30 * time.Minute)

	f.coord.dispatch(ctx, host.Event{Kind: host.EventActivated, TabID: 2, ContainerID: "b"})

	require.Len(t, f.browser.Removed, 1, "switch triggers one sweep")
	assert.ElementsMatch(t, []int64{1, 2}, f.browser.Removed[0],
		"tabs are judged on access times recorded before the switch")
	assert.Equal(t, "b", f.coord.activeContainer)
}

func TestActivated_FirstActivationOnlyTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, host.Tab{ID: 1, ContainerID: "a"})
	f.coord.dispatch(ctx, host.Event{Kind: host.EventActivated, TabID: 1, ContainerID: "a"})
	assert.Empty(t, f.browser.Removed)
	assert.Equal(t, "a", f.coord.activeContainer)
}

func TestRemoved_DropsLedgerEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Touch(ctx, 8))
	f.coord.dispatch(ctx, host.Event{Kind: host.EventRemoved, TabID: 8})
	_, tracked := f.lastAccess(t, 8)
	assert.False(t, tracked)
}

func TestAlarm_Sweeps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, host.Tab{ID: 1})
	require.NoError(t, f.ledger.Touch(ctx, 1))
	f.clock.advance(61 * time.Minute)

	f.coord.dispatch(ctx, host.Event{Kind: host.EventAlarm})
	assert.Empty(t, f.browser.IDs())
}

func TestHandlerErrorsDoNotPanic(t *testing.T) {
	f := newFixture(t)
	f.browser.QueryErr = errors.New("disconnected")
	assert.NotPanics(t, func() {
		f.coord.dispatch(context.Background(), host.Event{Kind: host.EventStartup})
		f.coord.dispatch(context.Background(), host.Event{Kind: host.EventCreated})
		f.coord.dispatch(context.Background(), host.Event{Kind: "bogus"})
	})
}

func TestArchiveNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, host.Tab{ID: 1}, host.Tab{ID: 2})
	require.NoError(t, f.ledger.Touch(ctx, 1))
	f.clock.advance(2 * time.Hour)
	require.NoError(t, f.ledger.Touch(ctx, 2))

	n, err := f.coord.ArchiveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2}, f.browser.IDs())
}

func TestToggleSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.coord.ToggleSync(ctx, false))
	assert.False(t, f.synced.Has(settings.KeySettings))
	tier, err := f.settings.ResolveTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.TierLocal, tier)

	require.NoError(t, f.coord.ToggleSync(ctx, true))
	assert.True(t, f.synced.Has(settings.KeySettings))
}

type chanSource struct{ events []host.Event }

func (s chanSource) Name() string { return "test" }

func (s chanSource) Subscribe(ctx context.Context, out chan<- host.Event) error {
	go func() {
		for _, ev := range s.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func TestRun_DispatchesSourceEvents(t *testing.T) {
	f := newFixture(t)
	f.coord.AddSource(chanSource{events: []host.Event{
		{Kind: host.EventActivated, TabID: 4, ContainerID: "a"},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx) }()

	require.NoError(t, f.coord.Submit(ctx, host.Event{Kind: host.EventActivated, TabID: 6, ContainerID: "a"}))

	assert.Eventually(t, func() bool {
		n, err := f.ledger.Len(context.Background())
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
