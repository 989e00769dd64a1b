// Package settings owns the user's archiving and routing configuration and
// the storage tier it lives in.
package settings

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
)

// Rule sends tabs whose URL matches Pattern to container WorkspaceID.
type Rule struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	WorkspaceID string `json:"workspaceId" yaml:"workspaceId"`
}

// Settings is the single settings record.
type Settings struct {
	ArchiveEnabled    bool     `json:"archiveEnabled" yaml:"archiveEnabled"`
	ArchiveAfterHours float64  `json:"archiveAfterHours" yaml:"archiveAfterHours"`
	ExcludePinnedTabs bool     `json:"excludePinnedTabs" yaml:"excludePinnedTabs"`
	ExcludedDomains   []string `json:"excludedDomains" yaml:"excludedDomains"`
	// WorkspaceRules are evaluated in order; the first matching pattern decides.
	WorkspaceRules []Rule `json:"workspaceRules" yaml:"workspaceRules"`
	// UseSyncStorage is nil when the record predates the sync option.
	// Absent means enabled; only an explicit false opts out.
	UseSyncStorage *bool `json:"useSyncStorage,omitempty" yaml:"useSyncStorage,omitempty"`
}

// Defaults returns the settings used whenever no record is stored.
func Defaults() Settings {
	return Settings{
		ArchiveEnabled:    true,
		ArchiveAfterHours: 48,
		ExcludePinnedTabs: true,
		ExcludedDomains:   []string{},
		WorkspaceRules:    []Rule{},
		UseSyncStorage:    boolPtr(true),
	}
}

// SyncEnabled reports whether the record selects the synced tier.
func (s Settings) SyncEnabled() bool {
	return s.UseSyncStorage == nil || *s.UseSyncStorage
}

// WithSync returns a copy of s with UseSyncStorage set explicitly.
func (s Settings) WithSync(enabled bool) Settings {
	s.UseSyncStorage = boolPtr(enabled)
	return s
}

// ArchiveThreshold converts ArchiveAfterHours to a duration.
// Fractional hours are honoured to the millisecond.
func (s Settings) ArchiveThreshold() time.Duration {
	return time.Duration(s.ArchiveAfterHours * float64(time.Hour)).Truncate(time.Millisecond)
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.ExcludedDomains = slices.Clone(s.ExcludedDomains)
	out.WorkspaceRules = slices.Clone(s.WorkspaceRules)
	if s.UseSyncStorage != nil {
		out.UseSyncStorage = boolPtr(*s.UseSyncStorage)
	}
	return out
}

// normalized replaces nil lists with empty ones so the record always
// encodes lists as arrays.
func (s Settings) normalized() Settings {
	if s.ExcludedDomains == nil {
		s.ExcludedDomains = []string{}
	}
	if s.WorkspaceRules == nil {
		s.WorkspaceRules = []Rule{}
	}
	return s
}

// Validate checks s against the settings schema.
func (s Settings) Validate() error {
	raw, err := json.Marshal(s.normalized())
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return validateDocument(raw)
}

// Parse validates a JSON settings document and decodes it. Fields the
// document omits keep their default values.
func Parse(raw []byte) (Settings, error) {
	if err := validateDocument(raw); err != nil {
		return Settings{}, err
	}
	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", zerrors.ErrInvalidInput, err)
	}
	return s.normalized(), nil
}

func boolPtr(b bool) *bool { return &b }
