// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferCapabilitiesOrchestratorAlwaysFastRouting(t *testing.T) {
	caps := InferCapabilities("local-orchestrator-v2", nil)
	assert.Equal(t, []Capability{FastRouting}, caps)
}

func TestInferCapabilitiesUnmatchedIsGeneral(t *testing.T) {
	caps := InferCapabilities("some-unknown-model", nil)
	assert.Equal(t, []Capability{General}, caps)
}

func TestInferCapabilitiesMorePrecisePatternWins(t *testing.T) {
	caps := InferCapabilities("claude-opus-orchestrator", nil)
	assert.Equal(t, []Capability{FastRouting}, caps, "orchestrator pattern must be listed before opus")
}

func TestIsOrchestratorByModelID(t *testing.T) {
	assert.True(t, IsOrchestrator("local-orchestrator", "", nil))
}

func TestIsOrchestratorByPort(t *testing.T) {
	assert.True(t, IsOrchestrator("generic-model", "11435", nil))
	assert.False(t, IsOrchestrator("generic-model", "9999", nil))
}

func TestEstimateTaskContextSizeSmall(t *testing.T) {
	assert.Equal(t, Small, EstimateTaskContextSize("fix a typo", 0))
}

func TestEstimateTaskContextSizeLarge(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, Large, EstimateTaskContextSize(string(long)+" comprehensive architecture review", 12))
}

// Boundary: with required-caps empty, FindBestBackend returns the
// first-priority available backend with score 50.
func TestFindBestBackendEmptyRequiredCapsScoresFifty(t *testing.T) {
	caps := func(name string) []Capability {
		return []Capability{General}
	}
	score, err := FindBestBackend(nil, []string{"a", "b"}, nil, Small, nil, caps)
	require.NoError(t, err)
	assert.Equal(t, "a", score.Backend)
	assert.Equal(t, 50, score.Value)
}

// P9: a fast-routing-only backend is selected only when it is the
// sole remaining fallback (scoring excludes it outright; it can only
// win via the fallbackOrder/local fallback steps).
func TestFindBestBackendFastRoutingOnlyViaFallback(t *testing.T) {
	caps := func(name string) []Capability {
		if name == "orchestrator" {
			return []Capability{FastRouting}
		}
		return []Capability{General}
	}
	score, err := FindBestBackend([]Capability{DeepReasoning}, []string{"orchestrator"}, []string{"orchestrator"}, Small, nil, caps)
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", score.Backend)
	assert.Equal(t, 0, score.Value, "fast-routing backend must win via fallback, never via scoring")
}

func TestFindBestBackendRoutingRuleOverride(t *testing.T) {
	caps := func(name string) []Capability { return []Capability{General} }
	rules := []RoutingRule{{Context: Large, Prefer: "premium", Reason: "large-context task"}}
	score, err := FindBestBackend([]Capability{DeepReasoning}, []string{"local", "premium"}, nil, Large, rules, caps)
	require.NoError(t, err)
	assert.Equal(t, "premium", score.Backend)
}

func TestFindBestBackendHighestScoreWins(t *testing.T) {
	caps := func(name string) []Capability {
		if name == "reasoning" {
			return []Capability{DeepReasoning, LargeContext}
		}
		return []Capability{General}
	}
	score, err := FindBestBackend([]Capability{DeepReasoning}, []string{"local", "reasoning"}, nil, Small, nil, caps)
	require.NoError(t, err)
	assert.Equal(t, "reasoning", score.Backend)
}

func TestFindBestBackendFallsBackToLocal(t *testing.T) {
	caps := func(name string) []Capability { return []Capability{FastRouting} }
	score, err := FindBestBackend([]Capability{DeepReasoning}, []string{"local", "orchestrator"}, nil, Small, nil, caps)
	require.NoError(t, err)
	assert.Equal(t, "local", score.Backend)
}

func TestFindBestBackendErrorsWhenNothingSuitable(t *testing.T) {
	caps := func(name string) []Capability { return []Capability{FastRouting} }
	_, err := FindBestBackend([]Capability{DeepReasoning}, []string{"orchestrator"}, nil, Small, nil, caps)
	require.Error(t, err)
}
