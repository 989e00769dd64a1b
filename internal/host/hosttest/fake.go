// Package hosttest provides an in-memory browser for tests.
package hosttest

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/p-blackswan/zentab/internal/host"
)

// Browser is a fake host.Tabs and host.Containers.
type Browser struct {
	mu         sync.Mutex
	tabs       map[int64]host.Tab
	containers []host.Container
	nextID     int64

	// HiddenContainers are omitted from unscoped queries, mimicking hosts
	// that only list them when asked per container.
	HiddenContainers map[string]bool

	QueryErr      error
	CreateErr     error
	RemoveErr     error
	ContainersErr error

	Created []host.CreateTab
	Removed [][]int64
}

// NewBrowser creates a browser holding tabs.
func NewBrowser(tabs ...host.Tab) *Browser {
	b := &Browser{tabs: make(map[int64]host.Tab), nextID: 1000}
	for _, t := range tabs {
		b.tabs[t.ID] = t
	}
	return b
}

// SetContainers replaces the container list.
func (b *Browser) SetContainers(cs ...host.Container) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.containers = cs
}

// Tab returns the tab with id.
func (b *Browser) Tab(id int64) (host.Tab, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	return t, ok
}

// IDs returns the open tab ids in ascending order.
func (b *Browser) IDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (b *Browser) Query(_ context.Context, q host.TabQuery) ([]host.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.QueryErr != nil {
		return nil, b.QueryErr
	}
	var out []host.Tab
	for _, t := range b.tabs {
		if q.ContainerID != "" && t.ContainerID != q.ContainerID {
			continue
		}
		if q.ContainerID == "" && b.HiddenContainers[t.ContainerID] {
			continue
		}
		if q.WindowID != 0 && t.WindowID != q.WindowID {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, c host.Tab) int { return cmp.Compare(a.ID, c.ID) })
	return out, nil
}

func (b *Browser) Create(_ context.Context, req host.CreateTab) (host.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Created = append(b.Created, req)
	if b.CreateErr != nil {
		return host.Tab{}, b.CreateErr
	}
	b.nextID++
	t := host.Tab{
		ID:          b.nextID,
		URL:         req.URL,
		ContainerID: req.ContainerID,
		Active:      req.Active,
		Index:       req.Index,
		WindowID:    req.WindowID,
	}
	b.tabs[t.ID] = t
	return t, nil
}

func (b *Browser) Remove(_ context.Context, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Removed = append(b.Removed, slices.Clone(ids))
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	for _, id := range ids {
		delete(b.tabs, id)
	}
	return nil
}

func (b *Browser) Containers(_ context.Context) ([]host.Container, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ContainersErr != nil {
		return nil, b.ContainersErr
	}
	return slices.Clone(b.containers), nil
}
