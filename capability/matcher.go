// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capability infers a backend's capability set from its model
// identifier and scores backends against a role's required
// capabilities. The taxonomy is a closed set (spec's open question:
// "do not extend without reviewing all matcher patterns").
package capability

import (
	"strings"
)

// Capability is one tag in the closed taxonomy.
type Capability string

const (
	DeepReasoning   Capability = "deep-reasoning"
	FastGeneration  Capability = "fast-generation"
	LargeContext    Capability = "large-context"
	CodeSpecialized Capability = "code-specialized"
	SecurityFocus   Capability = "security-focus"
	Documentation   Capability = "documentation"
	FastRouting     Capability = "fast-routing"
	General         Capability = "general"
)

// Size is an estimated task-context-size bucket.
type Size string

const (
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
)

// PatternRule maps a model-id substring to a capability set. Rules
// are evaluated in order; the first match wins, so more-specific
// patterns must be listed earlier. The exact pattern table is
// configuration (per spec's open questions) — DefaultPatterns is a
// reasonable starting table, not a hardcoded part of the taxonomy.
type PatternRule struct {
	Substring    string
	Capabilities []Capability
}

// DefaultPatterns is evaluated by InferCapabilities when the caller
// does not supply its own table.
var DefaultPatterns = []PatternRule{
	{"orchestrator", []Capability{FastRouting}},
	{"opus", []Capability{DeepReasoning, LargeContext}},
	{"sonnet", []Capability{DeepReasoning, CodeSpecialized}},
	{"haiku", []Capability{FastGeneration}},
	{"gemini", []Capability{CodeSpecialized, LargeContext}},
	{"security", []Capability{SecurityFocus}},
	{"doc", []Capability{Documentation}},
	{"code", []Capability{CodeSpecialized}},
	{"mini", []Capability{FastGeneration}},
	{"long-context", []Capability{LargeContext}},
}

// DefaultOrchestratorPorts is a small, empirically-observed set of
// ports commonly used to host an "orchestrator" routing model —
// configuration per spec's open questions, not part of the taxonomy.
var DefaultOrchestratorPorts = map[int]bool{11435: true, 8090: true}

// InferCapabilities maps modelID to its capability set using patterns
// (DefaultPatterns if nil); the first matching rule wins. Under
// DefaultPatterns, whose first rule is "orchestrator", a model id
// containing "orchestrator" yields exactly {fast-routing}, regardless
// of other matches.
// An id matching nothing yields {general}.
func InferCapabilities(modelID string, patterns []PatternRule) []Capability {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	lower := strings.ToLower(modelID)
	for _, rule := range patterns {
		if strings.Contains(lower, rule.Substring) {
			return rule.Capabilities
		}
	}
	return []Capability{General}
}

// IsOrchestrator reports whether modelID matches the orchestrator
// pattern, or endpoint's port is in orchestratorPorts
// (DefaultOrchestratorPorts if nil).
func IsOrchestrator(modelID, endpointPort string, orchestratorPorts map[int]bool) bool {
	if strings.Contains(strings.ToLower(modelID), "orchestrator") {
		return true
	}
	if orchestratorPorts == nil {
		orchestratorPorts = DefaultOrchestratorPorts
	}
	if port, err := parsePort(endpointPort); err == nil {
		return orchestratorPorts[port]
	}
	return false
}

func parsePort(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errNotAPort
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotAPort
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

var errNotAPort = portError{}

type portError struct{}

func (portError) Error() string { return "not a port" }

// largeMarkers and smallMarkers raise or lower the heuristic score used by
// EstimateTaskContextSize.
var largeMarkers = []string{"entire codebase", "comprehensive", "architecture review"}
var smallMarkers = []string{"single function", "quick review"}

// EstimateTaskContextSize scores taskText and filePatternCount into a
// small/medium/large bucket. Longer text and more file patterns raise
// the score; explicit "large" markers add 2, explicit "small" markers
// subtract 2. score >= 5 is large; score >= 2 is medium; else small.
func EstimateTaskContextSize(taskText string, filePatternCount int) Size {
	score := 0

	switch {
	case len(taskText) > 2000:
		score += 4
	case len(taskText) > 500:
		score += 2
	case len(taskText) > 100:
		score += 1
	}

	switch {
	case filePatternCount > 10:
		score += 4
	case filePatternCount > 3:
		score += 2
	case filePatternCount > 0:
		score += 1
	}

	lower := strings.ToLower(taskText)
	for _, m := range largeMarkers {
		if strings.Contains(lower, m) {
			score += 2
		}
	}
	for _, m := range smallMarkers {
		if strings.Contains(lower, m) {
			score -= 2
		}
	}

	switch {
	case score >= 5:
		return Large
	case score >= 2:
		return Medium
	default:
		return Small
	}
}

// RoutingRule is an optional role-level override: when contextSize
// matches Context and Prefer is in the available set, Prefer wins
// outright.
type RoutingRule struct {
	Context Size
	Prefer  string
	Reason  string
}

// Score is the outcome of scoring one backend against a set of
// required capabilities.
type Score struct {
	Backend string
	Value   int
	Reason  string
}

// FindBestBackend implements the spec's ranked selection:
//  1. A matching routing rule wins outright.
//  2. Otherwise every available backend is scored: 0 if its
//     capability set contains fast-routing; else percent-match of
//     required∩backend, plus up to 15 bonus points for extra useful
//     capabilities. The local backend's capabilities come from
//     localCapsFn (dynamic on its currently loaded model).
//  3. The highest-scoring backend wins if its score > 0.
//  4. Else the first of fallbackOrder present in available.
//  5. Else "local" if present in available.
//  6. Else an error.
func FindBestBackend(
	requiredCaps []Capability,
	available []string,
	fallbackOrder []string,
	contextSize Size,
	routingRules []RoutingRule,
	backendCaps func(name string) []Capability,
) (Score, error) {
	availSet := make(map[string]bool, len(available))
	for _, a := range available {
		availSet[a] = true
	}

	for _, rule := range routingRules {
		if rule.Context == contextSize && availSet[rule.Prefer] {
			return Score{Backend: rule.Prefer, Value: 100, Reason: rule.Reason}, nil
		}
	}

	best := Score{}
	for _, name := range available {
		caps := backendCaps(name)
		value := scoreBackend(requiredCaps, caps)
		if value > best.Value {
			best = Score{Backend: name, Value: value, Reason: "capability match"}
		}
	}
	if best.Value > 0 {
		return best, nil
	}

	for _, name := range fallbackOrder {
		if availSet[name] {
			return Score{Backend: name, Value: 0, Reason: "fallback order"}, nil
		}
	}

	if availSet["local"] {
		return Score{Backend: "local", Value: 0, Reason: "ultimate fallback"}, nil
	}

	return Score{}, errNoSuitableBackend
}

var errNoSuitableBackend = scoreError("no suitable backend")

type scoreError string

func (e scoreError) Error() string { return string(e) }

func scoreBackend(required, caps []Capability) int {
	capSet := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}
	if capSet[FastRouting] {
		return 0
	}

	if len(required) == 0 {
		return 50
	}

	matched := 0
	for _, r := range required {
		if capSet[r] {
			matched++
		}
	}
	percent := (matched * 100) / len(required)

	bonus := 0
	for c := range capSet {
		isRequired := false
		for _, r := range required {
			if r == c {
				isRequired = true
				break
			}
		}
		if !isRequired {
			bonus++
		}
	}
	if bonus > 15 {
		bonus = 15
	}

	return percent + bonus
}
