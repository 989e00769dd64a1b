package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/ledger"
	"github.com/p-blackswan/zentab/internal/settings"
)

var now = time.UnixMilli(1_700_000_000_000)

func ago(d time.Duration) time.Time { return now.Add(-d) }

func hourSettings() settings.Settings {
	s := settings.Defaults()
	s.ArchiveAfterHours = 1
	return s
}

func TestEvaluate_Scenario(t *testing.T) {
	s := hourSettings()
	tabs := []host.Tab{
		{ID: 1, URL: "https://a.com"},
		{ID: 2, URL: "https://a.com", Pinned: true},
	}
	snap := ledger.Snapshot{1: ago(2 * time.Hour), 2: ago(2 * time.Hour)}

	assert.Equal(t, []int64{1}, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_Disabled(t *testing.T) {
	s := hourSettings()
	s.ArchiveEnabled = false
	tabs := []host.Tab{{ID: 1}, {ID: 2}}
	snap := ledger.Snapshot{1: ago(1000 * time.Hour), 2: ago(1000 * time.Hour)}

	assert.Empty(t, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	s := hourSettings()
	tabs := []host.Tab{{ID: 1}, {ID: 2}, {ID: 3}}
	snap := ledger.Snapshot{
		1: ago(time.Hour),
		2: ago(time.Hour + time.Millisecond),
		3: ago(time.Hour - time.Millisecond),
	}

	assert.Equal(t, []int64{2}, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_FractionalHours(t *testing.T) {
	s := settings.Defaults()
	s.ArchiveAfterHours = 0.5
	tabs := []host.Tab{{ID: 1}, {ID: 2}}
	snap := ledger.Snapshot{1: ago(31 * time.Minute), 2: ago(29 * time.Minute)}

	assert.Equal(t, []int64{1}, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_PinnedNeverClosed(t *testing.T) {
	s := hourSettings()
	tabs := []host.Tab{{ID: 1, Pinned: true}}
	snap := ledger.Snapshot{1: ago(10_000 * time.Hour)}
	assert.Empty(t, Evaluate(s, snap, now, tabs))

	s.ExcludePinnedTabs = false
	assert.Equal(t, []int64{1}, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_ExcludedDomains(t *testing.T) {
	s := hourSettings()
	s.ExcludedDomains = []string{"nomatch.org", "*.example.com"}
	tabs := []host.Tab{
		{ID: 1, URL: "https://mail.example.com/inbox"},
		{ID: 2, URL: "https://other.com"},
		{ID: 3},
	}
	snap := ledger.Snapshot{1: ago(5 * time.Hour), 2: ago(5 * time.Hour), 3: ago(5 * time.Hour)}

	assert.ElementsMatch(t, []int64{2, 3}, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_UnknownTabIsFresh(t *testing.T) {
	s := hourSettings()
	tabs := []host.Tab{{ID: 9}}
	assert.Empty(t, Evaluate(s, ledger.Snapshot{}, now, tabs))
}

func TestEvaluate_NonPositiveThreshold(t *testing.T) {
	s := hourSettings()
	s.ArchiveAfterHours = 0
	tabs := []host.Tab{{ID: 1}}
	snap := ledger.Snapshot{1: ago(time.Hour)}
	assert.Empty(t, Evaluate(s, snap, now, tabs))

	s.ArchiveAfterHours = -1
	assert.Empty(t, Evaluate(s, snap, now, tabs))
}

func TestEvaluate_Idempotent(t *testing.T) {
	s := hourSettings()
	tabs := []host.Tab{{ID: 1}, {ID: 2}, {ID: 3, Pinned: true}}
	snap := ledger.Snapshot{1: ago(3 * time.Hour), 2: ago(10 * time.Minute), 3: ago(3 * time.Hour)}

	first := Evaluate(s, snap, now, tabs)
	second := Evaluate(s, snap, now, tabs)
	assert.Equal(t, first, second)
	assert.Equal(t, []int64{1}, first)
}
