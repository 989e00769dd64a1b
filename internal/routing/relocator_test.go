package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/host/hosttest"
	"github.com/p-blackswan/zentab/internal/metrics"
)

func TestApply_Relocates(t *testing.T) {
	orig := host.Tab{ID: 5, URL: "https://pay.bank.com", ContainerID: "default", Active: true, Index: 3, WindowID: 1}
	b := hosttest.NewBrowser(orig)
	r := NewRelocator(b, metrics.New(), zerolog.Nop())

	got, err := r.Apply(context.Background(), orig, Action{Kind: Relocate, Target: "c1"})
	require.NoError(t, err)

	require.Len(t, b.Created, 1)
	assert.Equal(t, host.CreateTab{URL: orig.URL, ContainerID: "c1", Active: true, Index: 4, WindowID: 1}, b.Created[0])
	assert.Equal(t, "c1", got.ContainerID)
	_, stillOpen := b.Tab(5)
	assert.False(t, stillOpen)
	_, replaced := b.Tab(got.ID)
	assert.True(t, replaced)
}

func TestApply_None(t *testing.T) {
	orig := host.Tab{ID: 5, URL: "https://a.com"}
	b := hosttest.NewBrowser(orig)
	got, err := NewRelocator(b, nil, zerolog.Nop()).Apply(context.Background(), orig, Action{Kind: None})
	require.NoError(t, err)
	assert.Equal(t, orig, got)
	assert.Empty(t, b.Created)
	assert.Empty(t, b.Removed)
}

func TestApply_CreateFailureKeepsOriginal(t *testing.T) {
	orig := host.Tab{ID: 5, URL: "https://pay.bank.com", ContainerID: "default"}
	b := hosttest.NewBrowser(orig)
	b.CreateErr = errors.New("no such container")

	got, err := NewRelocator(b, nil, zerolog.Nop()).Apply(context.Background(), orig, Action{Kind: Relocate, Target: "missing"})
	assert.ErrorContains(t, err, "no such container")
	assert.Equal(t, orig, got)
	assert.Empty(t, b.Removed, "original must not be closed")
	_, open := b.Tab(5)
	assert.True(t, open)
}

func TestApply_RemoveFailureIsNotFatal(t *testing.T) {
	orig := host.Tab{ID: 5, URL: "https://pay.bank.com", ContainerID: "default"}
	b := hosttest.NewBrowser(orig)
	b.RemoveErr = errors.New("busy")

	got, err := NewRelocator(b, nil, zerolog.Nop()).Apply(context.Background(), orig, Action{Kind: Relocate, Target: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ContainerID)
}
