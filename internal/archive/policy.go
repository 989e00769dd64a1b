// Package archive decides which tabs have been idle long enough to close,
// and runs the sweeps that close them.
package archive

import (
	"time"

	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/pattern"
	"github.com/p-blackswan/zentab/internal/settings"
)

// LastAccessor reports when a tab was last activated, or fallback when
// the tab has never been seen.
type LastAccessor interface {
	LastAccess(id int64, fallback time.Time) time.Time
}

// Evaluate returns the ids of candidates idle strictly longer than the
// configured threshold. Pinned tabs (when excluded) and tabs on excluded
// domains are never returned. A tab missing from the ledger counts as just
// accessed. Evaluate has no side effects; the result order is unspecified.
func Evaluate(s settings.Settings, ledger LastAccessor, now time.Time, candidates []host.Tab) []int64 {
	if !s.ArchiveEnabled {
		return nil
	}
	threshold := s.ArchiveThreshold().Milliseconds()
	if threshold <= 0 {
		return nil
	}

	nowMs := now.UnixMilli()
	var out []int64
	for _, tab := range candidates {
		if s.ExcludePinnedTabs && tab.Pinned {
			continue
		}
		if tab.URL != "" && pattern.IsExcludedDomain(tab.URL, s.ExcludedDomains) {
			continue
		}
		idle := nowMs - ledger.LastAccess(tab.ID, now).UnixMilli()
		if idle > threshold {
			out = append(out, tab.ID)
		}
	}
	return out
}
