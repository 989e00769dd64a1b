// Package routing decides which container a tab belongs in and moves it
// there. Rules are evaluated in order and the first matching rule wins.
package routing

import (
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/pattern"
	"github.com/p-blackswan/zentab/internal/settings"
)

// Kind is the routing decision.
type Kind int

const (
	None Kind = iota
	Relocate
)

func (k Kind) String() string {
	if k == Relocate {
		return "relocate"
	}
	return "none"
}

// Action is the result of Route. Target is set only for Relocate.
type Action struct {
	Kind   Kind
	Target string
}

// Route returns the action for tab under rules. Evaluation stops at the
// first rule whose pattern matches, even when the tab is already in that
// rule's container.
func Route(s settings.Settings, tab host.Tab) Action {
	if tab.URL == "" || len(s.WorkspaceRules) == 0 {
		return Action{Kind: None}
	}
	for _, rule := range s.WorkspaceRules {
		if !pattern.Matches(tab.URL, rule.Pattern) {
			continue
		}
		if tab.ContainerID == rule.WorkspaceID {
			return Action{Kind: None}
		}
		return Action{Kind: Relocate, Target: rule.WorkspaceID}
	}
	return Action{Kind: None}
}
