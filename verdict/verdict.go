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

// Package verdict tolerantly extracts a structured judgment out of a
// model's free-form text output: a fenced JSON/YAML block, a markdown
// "Verdict" bullet section, or a last-resort regex key-value scan.
package verdict

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Status is the normalized judgment outcome. The taxonomy spans both
// code-review and security-audit vocabularies since the same parser
// serves every role that requires a verdict.
type Status string

const (
	Approve            Status = "APPROVE"
	ApproveWithChanges Status = "APPROVE_WITH_CHANGES"
	Reject             Status = "REJECT"
	Secure             Status = "SECURE"
	Vulnerable         Status = "VULNERABLE"
	CriticalIssues     Status = "CRITICAL_ISSUES"
	Pass               Status = "PASS"
	Fail               Status = "FAIL"
	Warning            Status = "WARNING"
)

var knownStatuses = map[string]Status{
	"APPROVE": Approve, "APPROVE_WITH_CHANGES": ApproveWithChanges, "REJECT": Reject,
	"SECURE": Secure, "VULNERABLE": Vulnerable, "CRITICAL_ISSUES": CriticalIssues,
	"PASS": Pass, "FAIL": Fail, "WARNING": Warning,
}

// Verdict is the normalized result of parsing one model output.
type Verdict struct {
	Status    Status
	Score     float64 // normalized to [0, 10]
	Reasoning string
	RiskLevel string
	Raw       map[string]any
}

var (
	statusLinePattern    = regexp.MustCompile(`(?i)^\s*Status:\s*(.+)$`)
	scoreLinePattern     = regexp.MustCompile(`(?i)^\s*Score:\s*([0-9]+(?:\.[0-9]+)?)\s*(?:/\s*(10|100))?`)
	riskLinePattern      = regexp.MustCompile(`(?i)^\s*Risk Level:\s*(.+)$`)
	reasoningLinePattern = regexp.MustCompile(`(?i)^\s*Reasoning:\s*(.+)$`)
	verdictHeaderPattern = regexp.MustCompile(`(?i)^#{0,3}\s*verdict\s*:?\s*$`)
	bulletKVPattern      = regexp.MustCompile(`^\s*[-*]\s*\*{0,2}([A-Za-z ]+?)\*{0,2}\s*:\s*(.+)$`)
)

// Parse applies the strategy in order: (a) a fenced JSON/YAML block;
// (b) a markdown "Verdict" section of bullet key-value pairs; (c) a
// scan for known "Key: value" lines anywhere in the text. Returns nil
// if nothing identifiable is found, matching the spec's "return null"
// behavior.
func Parse(raw string) *Verdict {
	if v := parseFencedBlock(raw); v != nil {
		return v
	}
	if v := parseMarkdownSection(raw); v != nil {
		return v
	}
	if v := parseKeyValueScan(raw); v != nil {
		return v
	}
	return nil
}

func parseFencedBlock(raw string) *Verdict {
	candidate, ok := ExtractJSONObject(raw)
	if !ok {
		m := fencedBlockPattern.FindStringSubmatch(raw)
		if m == nil {
			return nil
		}
		candidate = m[1]
	}

	var asMap map[string]any
	if err := yaml.Unmarshal([]byte(candidate), &asMap); err != nil || len(asMap) == 0 {
		return nil
	}
	return fromMap(asMap)
}

func fromMap(m map[string]any) *Verdict {
	v := &Verdict{Raw: m}
	if s, ok := stringField(m, "status"); ok {
		v.Status = normalizeStatus(s)
	}
	if score, ok := numberField(m, "score"); ok {
		v.Score = normalizeScore(score)
	}
	if s, ok := stringField(m, "reasoning"); ok {
		v.Reasoning = s
	}
	if s, ok := stringField(m, "risk_level"); ok {
		v.RiskLevel = s
	} else if s, ok := stringField(m, "riskLevel"); ok {
		v.RiskLevel = s
	}
	if v.Status == "" && v.Reasoning == "" && v.RiskLevel == "" && v.Score == 0 {
		return nil
	}
	return v
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// parseMarkdownSection looks for a "Verdict" header followed by
// "- Key: value" bullet lines and parses those as a flat map.
func parseMarkdownSection(raw string) *Verdict {
	lines := strings.Split(raw, "\n")
	inSection := false
	found := map[string]any{}

	for _, line := range lines {
		if verdictHeaderPattern.MatchString(line) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := bulletKVPattern.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(strings.TrimSpace(m[1]))
			key = strings.ReplaceAll(key, " ", "_")
			found[key] = strings.TrimSpace(m[2])
			continue
		}
		break // section ended at the first non-bullet, non-blank line
	}

	if len(found) == 0 {
		return nil
	}
	return fromMap(found)
}

// parseKeyValueScan is the last-resort pass: scan every line for the
// four known "Key: value" prefixes anywhere in the text.
func parseKeyValueScan(raw string) *Verdict {
	v := &Verdict{Raw: map[string]any{}}
	found := false

	for _, line := range strings.Split(raw, "\n") {
		if m := statusLinePattern.FindStringSubmatch(line); m != nil {
			v.Status = normalizeStatus(strings.TrimSpace(m[1]))
			v.Raw["status"] = v.Status
			found = true
		}
		if m := scoreLinePattern.FindStringSubmatch(line); m != nil {
			n, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				if m[2] == "100" {
					n = n / 10
				}
				v.Score = normalizeScore(n)
				v.Raw["score"] = v.Score
				found = true
			}
		}
		if m := riskLinePattern.FindStringSubmatch(line); m != nil {
			v.RiskLevel = strings.TrimSpace(m[1])
			v.Raw["risk_level"] = v.RiskLevel
			found = true
		}
		if m := reasoningLinePattern.FindStringSubmatch(line); m != nil {
			v.Reasoning = strings.TrimSpace(m[1])
			v.Raw["reasoning"] = v.Reasoning
			found = true
		}
	}

	if !found {
		return nil
	}
	return v
}

func normalizeStatus(s string) Status {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if known, ok := knownStatuses[key]; ok {
		return known
	}
	return Status(key)
}

// normalizeScore clamps to [0, 10] and rescales a 0-100 value down to
// 0-10 when it is unambiguously out of the smaller range.
func normalizeScore(n float64) float64 {
	if n > 10 {
		n = n / 10
	}
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	return n
}
