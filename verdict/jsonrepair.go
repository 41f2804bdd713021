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

package verdict

import (
	"regexp"
	"strings"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|yaml|yml)?\\s*\\n?(.*?)```")
	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// ExtractJSONObject applies the tolerant JSON-repair strategy shared
// by both the verdict parser and the parallel-agents orchestrator's
// decomposition/quality-gate stages, since LLM output is frequently
// not quite valid JSON:
//  1. strip surrounding prose;
//  2. extract the innermost fenced code block if present;
//  3. extract the outermost '{...}' or '[...]' substring;
//  4. strip control characters that confuse strict parsers;
//  5. on failure, fall back to the substring from the first '{' to
//     the last '}'.
//
// Returns the candidate JSON text and true, or "" and false if no
// plausible object/array substring can be found at all.
func ExtractJSONObject(raw string) (string, bool) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", false
	}

	if m := fencedBlockPattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	if obj, ok := outermostBraces(candidate, '{', '}'); ok {
		return controlCharPattern.ReplaceAllString(obj, ""), true
	}
	if arr, ok := outermostBraces(candidate, '[', ']'); ok {
		return controlCharPattern.ReplaceAllString(arr, ""), true
	}

	first := strings.IndexByte(candidate, '{')
	last := strings.LastIndexByte(candidate, '}')
	if first >= 0 && last > first {
		return controlCharPattern.ReplaceAllString(candidate[first:last+1], ""), true
	}

	return "", false
}

// outermostBraces returns the substring from the first open rune to
// its matching close rune (tracking nesting depth), or false if open
// never appears or never balances.
func outermostBraces(s string, open, closeR rune) (string, bool) {
	start := strings.IndexRune(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	for i, r := range s[start:] {
		switch r {
		case open:
			depth++
		case closeR:
			depth--
			if depth == 0 {
				return s[start : start+i+len(string(closeR))], true
			}
		}
	}
	return "", false
}

// Head returns up to n runes of raw's head, for error messages that
// carry the unparsable output's beginning.
func Head(raw string, n int) string {
	r := []rune(strings.TrimSpace(raw))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
