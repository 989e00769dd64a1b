// Package host defines the browser-side collaborators the daemon drives:
// tab enumeration and mutation, container listing, and lifecycle events.
package host

import "context"

// Tab is a browser tab as reported by the extension.
type Tab struct {
	ID          int64  `json:"id"`
	URL         string `json:"url,omitempty"`
	Pinned      bool   `json:"pinned"`
	ContainerID string `json:"containerId,omitempty"`
	Active      bool   `json:"active"`
	Index       int    `json:"index"`
	WindowID    int64  `json:"windowId,omitempty"`
}

// Container is an isolation container (workspace).
type Container struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TabQuery narrows tab enumeration. Zero fields match everything.
type TabQuery struct {
	ContainerID string `json:"containerId,omitempty"`
	WindowID    int64  `json:"windowId,omitempty"`
}

// CreateTab describes a tab to open.
type CreateTab struct {
	URL         string `json:"url"`
	ContainerID string `json:"containerId"`
	Active      bool   `json:"active"`
	Index       int    `json:"index"`
	WindowID    int64  `json:"windowId,omitempty"`
}

// Tabs enumerates and mutates tabs.
type Tabs interface {
	Query(ctx context.Context, q TabQuery) ([]Tab, error)
	Create(ctx context.Context, req CreateTab) (Tab, error)
	// Remove closes the given tabs. Ids that no longer exist are ignored.
	Remove(ctx context.Context, ids []int64) error
}

// Containers lists isolation containers.
type Containers interface {
	Containers(ctx context.Context) ([]Container, error)
}

// EventKind names a tab lifecycle signal.
type EventKind string

const (
	EventStartup   EventKind = "runtime.startup"
	EventCreated   EventKind = "tabs.created"
	EventUpdated   EventKind = "tabs.updated"
	EventActivated EventKind = "tabs.activated"
	EventRemoved   EventKind = "tabs.removed"
	EventAlarm     EventKind = "alarm"
)

// Event is one lifecycle signal. Which fields are set depends on Kind:
// created and updated carry Tab, activated carries TabID and ContainerID,
// removed carries TabID. URLChanged is only meaningful for updated.
type Event struct {
	Kind        EventKind `json:"kind"`
	TabID       int64     `json:"tabId,omitempty"`
	ContainerID string    `json:"containerId,omitempty"`
	URLChanged  bool      `json:"urlChanged,omitempty"`
	Tab         *Tab      `json:"tab,omitempty"`
}

// Enumerate lists every tab the host exposes. It queries all tabs, then
// each known container, and merges the results by id: the host does not
// reliably return tabs from every container in a single query. The result
// is best effort; an error is returned only when nothing could be listed.
func Enumerate(ctx context.Context, tabs Tabs, containers Containers) ([]Tab, error) {
	all, firstErr := tabs.Query(ctx, TabQuery{})
	seen := make(map[int64]struct{}, len(all))
	for _, t := range all {
		seen[t.ID] = struct{}{}
	}

	if containers != nil {
		list, err := containers.Containers(ctx)
		if err != nil && firstErr == nil && len(all) == 0 {
			firstErr = err
		}
		for _, c := range list {
			scoped, err := tabs.Query(ctx, TabQuery{ContainerID: c.ID})
			if err != nil {
				continue
			}
			for _, t := range scoped {
				if _, ok := seen[t.ID]; ok {
					continue
				}
				seen[t.ID] = struct{}{}
				all = append(all, t)
			}
		}
	}

	if len(all) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}
