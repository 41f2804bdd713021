// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable in-memory Adapter used across this
// package's tests; it never performs real I/O.
type fakeAdapter struct {
	name    string
	breaker *Breaker

	mu      sync.Mutex
	fail    error
	health  *Health
	calls   int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, breaker: NewBreaker(DefaultFailureThreshold, DefaultResetTimeout)}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Execute(ctx context.Context, prompt string, opts Options) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &Response{Content: "ok", Backend: f.name}, nil
}

func (f *fakeAdapter) HealthProbe(ctx context.Context) (*Health, error) {
	h := &Health{Healthy: true, CheckedAt: time.Now()}
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()
	return h, nil
}

func (f *fakeAdapter) LatestHealth() *Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeAdapter) Available() bool { return f.breaker.CanAttempt() }

func (f *fakeAdapter) Breaker() *Breaker { return f.breaker }

func (f *fakeAdapter) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func newTestRegistry(t *testing.T, adapters ...*fakeAdapter) (*Registry, map[string]*fakeAdapter) {
	t.Helper()
	byName := make(map[string]*fakeAdapter, len(adapters))
	factories := map[Kind]Factory{
		KindLocal: func(name string, d Descriptor) (Adapter, error) {
			return byName[name], nil
		},
	}
	reg := NewRegistry(factories, nil)
	for i, a := range adapters {
		byName[a.name] = a
		require.NoError(t, reg.Register(a.name, Descriptor{Kind: KindLocal, Enabled: true, Priority: i + 1}))
	}
	return reg, byName
}

func TestFallbackChainOrderedByPriorityThenInsertion(t *testing.T) {
	a := newFakeAdapter("b")
	c := newFakeAdapter("a")
	factories := map[Kind]Factory{KindLocal: func(name string, d Descriptor) (Adapter, error) {
		if name == "b" {
			return a, nil
		}
		return c, nil
	}}
	reg := NewRegistry(factories, nil)
	require.NoError(t, reg.Register("b", Descriptor{Kind: KindLocal, Enabled: true, Priority: 2}))
	require.NoError(t, reg.Register("a", Descriptor{Kind: KindLocal, Enabled: true, Priority: 1}))
	assert.Equal(t, []string{"a", "b"}, reg.FallbackChain())
}

func TestDisabledEntryExcludedFromChain(t *testing.T) {
	a := newFakeAdapter("a")
	reg, _ := newTestRegistry(t, a)
	require.NoError(t, reg.SetEnabled("a", false))
	assert.Empty(t, reg.FallbackChain())
	_, ok := reg.LookupAdapter("a")
	assert.False(t, ok)
}

func TestUnregisterRoundTrip(t *testing.T) {
	a := newFakeAdapter("a")
	reg, _ := newTestRegistry(t, a)
	before := reg.Count()
	reg.Unregister("a")
	assert.Equal(t, before-1, reg.Count())
	assert.Empty(t, reg.FallbackChain())
}

// S1 — fallback on primary timeout.
func TestExecuteWithFallbackUsesSecondOnFirstFailure(t *testing.T) {
	a := newFakeAdapter("A")
	b := newFakeAdapter("B")
	a.setFail(assertTimeoutErr{})
	reg, _ := newTestRegistry(t, a, b)

	resp, attempted, err := reg.ExecuteWithFallback(context.Background(), "compute 2+2", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, "B", resp.Backend)
	assert.Equal(t, []string{"A"}, attempted)
	assert.Equal(t, 1, a.breaker.ConsecutiveFailures())
}

// S2 — breaker opens after five timeouts; the sixth call fails fast.
func TestExecuteWithFallbackAllBackendsFailedAfterBreakerOpens(t *testing.T) {
	a := newFakeAdapter("A")
	a.setFail(assertTimeoutErr{})
	reg, _ := newTestRegistry(t, a)

	for i := 0; i < 5; i++ {
		_, _, err := reg.ExecuteWithFallback(context.Background(), "x", "", Options{})
		require.Error(t, err)
	}
	assert.Equal(t, Open, a.breaker.State())

	start := time.Now()
	_, _, err := reg.ExecuteWithFallback(context.Background(), "x", "", Options{})
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestExecuteWithFallbackPreferredWins(t *testing.T) {
	a := newFakeAdapter("A")
	b := newFakeAdapter("B")
	reg, _ := newTestRegistry(t, a, b)

	resp, attempted, err := reg.ExecuteWithFallback(context.Background(), "x", "B", Options{})
	require.NoError(t, err)
	assert.Equal(t, "B", resp.Backend)
	assert.Empty(t, attempted)
}

// P3: the fallback chain never revisits a backend within one invocation.
func TestExecuteWithFallbackNeverRevisitsBackend(t *testing.T) {
	a := newFakeAdapter("A")
	b := newFakeAdapter("B")
	a.setFail(assertTimeoutErr{})
	b.setFail(assertTimeoutErr{})
	reg, _ := newTestRegistry(t, a, b)

	_, attempted, err := reg.ExecuteWithFallback(context.Background(), "x", "", Options{})
	require.Error(t, err)
	seen := map[string]int{}
	for _, n := range attempted {
		seen[n]++
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "backend %s attempted more than once", name)
	}
}

func TestExportAndLoadConfigRoundTrip(t *testing.T) {
	a := newFakeAdapter("a")
	reg, _ := newTestRegistry(t, a)
	doc, err := reg.ExportConfig()
	require.NoError(t, err)

	factories := map[Kind]Factory{KindLocal: func(name string, d Descriptor) (Adapter, error) { return a, nil }}
	fresh := NewRegistry(factories, nil)
	require.NoError(t, fresh.LoadConfig(doc))
	assert.Equal(t, reg.FallbackChain(), fresh.FallbackChain())
}

type assertTimeoutErr struct{}

func (assertTimeoutErr) Error() string { return "upstream timeout" }
