package hostbridge

import (
	"context"

	"github.com/p-blackswan/zentab/internal/host"
)

// Query implements host.Tabs.
func (s *Server) Query(ctx context.Context, q host.TabQuery) ([]host.Tab, error) {
	var tabs []host.Tab
	if err := s.Call(ctx, MethodTabsQuery, q, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// Create implements host.Tabs.
func (s *Server) Create(ctx context.Context, req host.CreateTab) (host.Tab, error) {
	var tab host.Tab
	if err := s.Call(ctx, MethodTabsCreate, req, &tab); err != nil {
		return host.Tab{}, err
	}
	return tab, nil
}

// Remove implements host.Tabs. The extension ignores ids that are already
// closed.
func (s *Server) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.Call(ctx, MethodTabsRemove, removeParams{TabIDs: ids}, nil)
}

// Containers implements host.Containers.
func (s *Server) Containers(ctx context.Context) ([]host.Container, error) {
	var cs []host.Container
	if err := s.Call(ctx, MethodContainersQuery, nil, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

var (
	_ host.Tabs       = (*Server)(nil)
	_ host.Containers = (*Server)(nil)
)
