// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package role

import (
	"context"
	"testing"
	"time"

	"inference-gateway/backend"
	"inference-gateway/fileops"
	"inference-gateway/guard/pool"
	"inference-gateway/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name    string
	model   string
	content string
	breaker *backend.Breaker
}

func newFakeAdapter(name, model, content string) *fakeAdapter {
	return &fakeAdapter{name: name, model: model, content: content, breaker: backend.NewBreaker(5, 30*time.Second)}
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Breaker() *backend.Breaker { return f.breaker }
func (f *fakeAdapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	return &backend.Response{Content: f.content, Backend: f.name}, nil
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
		backend.KindLocal: func(name string, d backend.Descriptor) (backend.Adapter, error) { return adapters[name], nil },
	}
	reg := backend.NewRegistry(factories, nil)
	priority := 0
	for name := range adapters {
		require.NoError(t, reg.Register(name, backend.Descriptor{Kind: backend.KindLocal, Enabled: true, Priority: priority}))
		priority++
	}
	return reg
}

type fakeMetaSelector struct{ pick string }

func (f *fakeMetaSelector) SelectRole(ctx context.Context, taskText string, candidates []string) (string, error) {
	return f.pick, nil
}

func TestExecuteRejectsUnknownRoleWithSuggestion(t *testing.T) {
	reg := newTestRegistry(t, map[string]*fakeAdapter{"code": newFakeAdapter("code", "gemini-code", "ok")})
	r := router.New(reg, pool.New(4, nil))
	exec := New(NewDefaultRegistry(), r, nil, nil)

	_, err := exec.Execute(context.Background(), Task{RoleName: "cod-reviewr", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code-reviewer")
}

func TestExecuteRunsCodeReviewerAndParsesVerdict(t *testing.T) {
	a := newFakeAdapter("code", "gemini-code", "Status: APPROVE\nScore: 9\nReasoning: looks fine\n")
	reg := newTestRegistry(t, map[string]*fakeAdapter{"code": a})
	r := router.New(reg, pool.New(4, nil))
	exec := New(NewDefaultRegistry(), r, nil, nil)

	result, err := exec.Execute(context.Background(), Task{RoleName: "code-reviewer", Text: "review this diff"})
	require.NoError(t, err)
	assert.Equal(t, "code-reviewer", result.RoleUsed)
	require.NotNil(t, result.Verdict)
	assert.Equal(t, "APPROVE", string(result.Verdict.Status))
}

func TestExecuteResolvesFilePatterns(t *testing.T) {
	a := newFakeAdapter("code", "gemini-code", "ok")
	reg := newTestRegistry(t, map[string]*fakeAdapter{"code": a})
	r := router.New(reg, pool.New(4, nil))
	mock := fileops.NewMock(map[string]string{"src/a.go": "package a"})
	exec := New(NewDefaultRegistry(), r, mock, nil)

	result, err := exec.Execute(context.Background(), Task{RoleName: "code-reviewer", Text: "review", FilePatterns: []string{"src/*"}})
	require.NoError(t, err)
	assert.Equal(t, "code", result.Winner)
}

func TestExecuteResolvesAutoRole(t *testing.T) {
	a := newFakeAdapter("code", "gemini-code", "ok")
	reg := newTestRegistry(t, map[string]*fakeAdapter{"code": a})
	r := router.New(reg, pool.New(4, nil))
	exec := New(NewDefaultRegistry(), r, nil, &fakeMetaSelector{pick: "we should use implementer here"})

	result, err := exec.Execute(context.Background(), Task{RoleName: "auto", Text: "build the feature"})
	require.NoError(t, err)
	assert.Equal(t, "implementer", result.RoleUsed)
}

func TestExecuteAutoFallsBackToDefaultWhenUnparseable(t *testing.T) {
	a := newFakeAdapter("code", "gemini-code", "ok")
	reg := newTestRegistry(t, map[string]*fakeAdapter{"code": a})
	r := router.New(reg, pool.New(4, nil))
	exec := New(NewDefaultRegistry(), r, nil, &fakeMetaSelector{pick: "I don't know"})

	result, err := exec.Execute(context.Background(), Task{RoleName: "auto", Text: "build the feature"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRoleName, result.RoleUsed)
}

func TestExecuteExcludesLocalWhenServingOrchestratorModel(t *testing.T) {
	local := newFakeAdapter("local", "orchestrator-router-v1", "ok")
	code := newFakeAdapter("code", "gemini-code", "ok")
	reg := newTestRegistry(t, map[string]*fakeAdapter{"local": local, "code": code})
	r := router.New(reg, pool.New(4, nil))
	exec := New(NewDefaultRegistry(), r, nil, nil).WithLocalModelProbe(func() (string, string) {
		return "orchestrator-router-v1", "11435"
	})

	result, err := exec.Execute(context.Background(), Task{RoleName: "code-reviewer", Text: "review"})
	require.NoError(t, err)
	assert.NotEqual(t, "local", result.Winner)
}
