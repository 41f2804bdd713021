// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package agents

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"inference-gateway/backend"
	"inference-gateway/guard/pool"
	"inference-gateway/role"
	"inference-gateway/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter returns one canned response per role, keyed by a
// substring match against the prompt (every prompt contains the
// role's distinguishing marker text set by the test).
type scriptedAdapter struct {
	mu       sync.Mutex
	breaker  *backend.Breaker
	handler  func(prompt string) string
	calls    int
}

func newScriptedAdapter(handler func(prompt string) string) *scriptedAdapter {
	return &scriptedAdapter{breaker: backend.NewBreaker(5, 0), handler: handler}
}

func (a *scriptedAdapter) Name() string              { return "code" }
func (a *scriptedAdapter) Breaker() *backend.Breaker { return a.breaker }
func (a *scriptedAdapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return &backend.Response{Content: a.handler(prompt), Backend: "code"}, nil
}
func (a *scriptedAdapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	return &backend.Health{Healthy: true, ActiveModel: "gemini-code"}, nil
}
func (a *scriptedAdapter) LatestHealth() *backend.Health {
	return &backend.Health{Healthy: true, ActiveModel: "gemini-code"}
}
func (a *scriptedAdapter) Available() bool { return true }

func newTestExecutor(t *testing.T, handler func(prompt string) string) *role.Executor {
	t.Helper()
	adapter := newScriptedAdapter(handler)
	factories := map[backend.Kind]backend.Factory{
		backend.KindCode: func(name string, d backend.Descriptor) (backend.Adapter, error) { return adapter, nil },
	}
	reg := backend.NewRegistry(factories, nil)
	require.NoError(t, reg.Register("code", backend.Descriptor{Kind: backend.KindCode, Enabled: true, Priority: 0}))
	r := router.New(reg, pool.New(4, nil))
	return role.New(role.NewDefaultRegistry(), r, nil, nil)
}

const decomposerOutput = `Sure, here is the plan:
` + "```json\n" + `{"parallel_groups":[{"group":1,"name":"add","tasks":[{"id":"T1","phase":"RED","task":"test add"},{"id":"T2","phase":"GREEN","task":"impl add"}]},{"group":2,"name":"sub","tasks":[{"id":"T3","phase":"RED","task":"test sub"},{"id":"T4","phase":"GREEN","task":"impl sub"}]}]}` + "\n```\nthanks"

func scriptedHandler(t *testing.T) func(string) string {
	return func(prompt string) string {
		switch {
		case contains(prompt, "Decompose"):
			return decomposerOutput
		case contains(prompt, "quality score as JSON") || contains(prompt, "pass/iterate"):
			return "```json\n{\"verdict\":\"pass\",\"score\":90}\n```"
		default:
			return "ok: " + prompt[:min(10, len(prompt))]
		}
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestRegroupByPhaseOrdersRedBeforeGreen(t *testing.T) {
	groups := []Group{
		{Group: 1, Name: "add", Tasks: []Task{{ID: "T1", Phase: PhaseRed, Task: "test add"}, {ID: "T2", Phase: PhaseGreen, Task: "impl add"}}},
		{Group: 2, Name: "sub", Tasks: []Task{{ID: "T3", Phase: PhaseRed, Task: "test sub"}, {ID: "T4", Phase: PhaseGreen, Task: "impl sub"}}},
	}
	batches := regroupByPhase(groups, 2)
	require.Len(t, batches, 2)

	firstIDs := map[string]bool{}
	for _, task := range batches[0] {
		firstIDs[task.ID] = true
	}
	assert.True(t, firstIDs["T1"])
	assert.True(t, firstIDs["T3"])

	secondIDs := map[string]bool{}
	for _, task := range batches[1] {
		secondIDs[task.ID] = true
	}
	assert.True(t, secondIDs["T2"])
	assert.True(t, secondIDs["T4"])
}

func TestRegroupByPhaseSplitsOversizedPhaseIntoBatches(t *testing.T) {
	groups := []Group{{Group: 1, Name: "g", Tasks: []Task{
		{ID: "T1", Phase: PhaseRed, Task: "a"},
		{ID: "T2", Phase: PhaseRed, Task: "b"},
		{ID: "T3", Phase: PhaseRed, Task: "c"},
	}}}
	batches := regroupByPhase(groups, 2)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
}

func TestExecuteRunsFullWorkflowAndWritesArtifacts(t *testing.T) {
	executor := newTestExecutor(t, scriptedHandler(t))
	orch := New(executor, nil, nil)

	dir := t.TempDir()
	result, err := orch.Execute(context.Background(), Run{
		Task:        "build add and sub",
		MaxParallel: 2,
		WorkDir:     filepath.Join(dir, "run1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Synthesis.TasksTotal)
	assert.Equal(t, 4, result.Synthesis.TasksCompleted)
	assert.Equal(t, "pass", result.Synthesis.QualityVerdict)
	assert.True(t, result.Synthesis.Reorganized)

	for _, name := range []string{"decomposed.json", "results.json", "synthesis.json"} {
		_, statErr := os.Stat(filepath.Join(result.WorkDir, name))
		assert.NoError(t, statErr, name)
	}
}

func TestExecuteFailsFastOnUndecomposableOutput(t *testing.T) {
	executor := newTestExecutor(t, func(prompt string) string { return "no json here at all" })
	orch := New(executor, nil, nil)

	_, err := orch.Execute(context.Background(), Run{Task: "do something", MaxParallel: 2, WorkDir: t.TempDir()})
	require.Error(t, err)
}

func TestExecuteRetriesTaskOnIterateVerdict(t *testing.T) {
	iteration := 0
	var mu sync.Mutex
	handler := func(prompt string) string {
		switch {
		case contains(prompt, "Decompose"):
			return `{"parallel_groups":[{"group":1,"name":"add","tasks":[{"id":"T1","phase":"RED","task":"test add"},{"id":"T2","phase":"GREEN","task":"impl add"}]}]}`
		case contains(prompt, "pass/iterate"):
			mu.Lock()
			defer mu.Unlock()
			iteration++
			if iteration == 1 {
				return `{"verdict":"iterate","score":40,"retry_tasks":["T2"],"task_issues":{"T2":["missing null check"]}}`
			}
			return `{"verdict":"pass","score":88}`
		default:
			return "ok"
		}
	}
	executor := newTestExecutor(t, handler)
	orch := New(executor, nil, nil)

	result, err := orch.Execute(context.Background(), Run{Task: "build add", MaxParallel: 2, WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synthesis.Iterations)
	assert.Equal(t, "pass", result.Synthesis.QualityVerdict)

	var qv qualityVerdict
	raw, readErr := os.ReadFile(filepath.Join(result.WorkDir, "quality-1.json"))
	require.NoError(t, readErr)
	require.NoError(t, json.Unmarshal(raw, &qv))
	assert.Equal(t, "iterate", qv.Verdict)
}

type fakeProber struct{ slots int }

func (f *fakeProber) SlotCount(ctx context.Context) (int, bool) { return f.slots, f.slots > 0 }

func TestDiscoverCapacityClampsToDefaultMax(t *testing.T) {
	orch := New(nil, &fakeProber{slots: 99}, nil)
	assert.Equal(t, DefaultMaxParallel, orch.discoverCapacity(context.Background(), 0))
}

func TestDiscoverCapacityPrefersExplicitRequest(t *testing.T) {
	orch := New(nil, &fakeProber{slots: 8}, nil)
	assert.Equal(t, 3, orch.discoverCapacity(context.Background(), 3))
}
