// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"testing"
	"time"

	"inference-gateway/backend"
	"inference-gateway/capability"
	"inference-gateway/guard/pool"
	"inference-gateway/shared/ghcerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal backend.Adapter for exercising router
// ordering without any real HTTP round-trip.
type fakeAdapter struct {
	name    string
	model   string
	fail    bool
	breaker *backend.Breaker
	calls   int
}

func newFakeAdapter(name, model string, fail bool) *fakeAdapter {
	return &fakeAdapter{name: name, model: model, fail: fail, breaker: backend.NewBreaker(5, 30*time.Second)}
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Breaker() *backend.Breaker { return f.breaker }
func (f *fakeAdapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	f.calls++
	if f.fail {
		return nil, ghcerrors.NewUpstreamError(f.name, 500, "boom", nil)
	}
	return &backend.Response{Content: "ok from " + f.name, Backend: f.name}, nil
}
func (f *fakeAdapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	return &backend.Health{Healthy: true, ActiveModel: f.model}, nil
}
func (f *fakeAdapter) LatestHealth() *backend.Health {
	return &backend.Health{Healthy: true, ActiveModel: f.model}
}
func (f *fakeAdapter) Available() bool { return f.breaker.CanAttempt() }

func newTestRegistry(t *testing.T, adapters map[string]*fakeAdapter) *backend.Registry {
	t.Helper()
	factories := map[backend.Kind]backend.Factory{
		backend.KindLocal: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return adapters[name], nil
		},
	}
	reg := backend.NewRegistry(factories, nil)
	priority := 0
	for name := range adapters {
		require.NoError(t, reg.Register(name, backend.Descriptor{Kind: backend.KindLocal, Enabled: true, Priority: priority}))
		priority++
	}
	return reg
}

func TestExecutePrefersExplicitPreferred(t *testing.T) {
	a := newFakeAdapter("a", "general-model", false)
	b := newFakeAdapter("b", "general-model", false)
	reg := newTestRegistry(t, map[string]*fakeAdapter{"a": a, "b": b})
	r := New(reg, pool.New(4, nil))

	result, err := r.Execute(context.Background(), Request{Prompt: "hi", Preferred: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", result.Winner)
	assert.Equal(t, 0, a.calls)
}

func TestExecuteFallsBackOnFailure(t *testing.T) {
	a := newFakeAdapter("a", "general-model", true)
	b := newFakeAdapter("b", "general-model", false)
	reg := newTestRegistry(t, map[string]*fakeAdapter{"a": a, "b": b})
	r := New(reg, pool.New(4, nil))

	result, err := r.Execute(context.Background(), Request{Prompt: "hi", Preferred: "a"})
	require.NoError(t, err)
	assert.Equal(t, "b", result.Winner)
	assert.Contains(t, result.Attempted, "a")
}

func TestExecuteUsesCapabilityScoredWinner(t *testing.T) {
	a := newFakeAdapter("a", "fast-router-mini", false)
	b := newFakeAdapter("b", "deep-reasoner-opus", false)
	reg := newTestRegistry(t, map[string]*fakeAdapter{"a": a, "b": b})
	r := New(reg, pool.New(4, nil))

	result, err := r.Execute(context.Background(), Request{
		Prompt:               "solve this hard proof",
		RequiredCapabilities: []capability.Capability{capability.DeepReasoning},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", result.Winner)
}

func TestExecuteAllBackendsFailedWhenAllReject(t *testing.T) {
	a := newFakeAdapter("a", "general-model", true)
	b := newFakeAdapter("b", "general-model", true)
	reg := newTestRegistry(t, map[string]*fakeAdapter{"a": a, "b": b})
	r := New(reg, pool.New(4, nil))

	_, err := r.Execute(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ghcerrors.AllBackendsFailed, ghcerrors.KindOf(err))
}

func TestExecuteNeverRetriesSameBackendTwice(t *testing.T) {
	a := newFakeAdapter("a", "general-model", true)
	reg := newTestRegistry(t, map[string]*fakeAdapter{"a": a})
	r := New(reg, pool.New(4, nil))

	_, err := r.Execute(context.Background(), Request{Prompt: "hi", Preferred: "a", FallbackOrder: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
}
