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

package wire

import "time"

// stringArg reads a string argument, defaulting to "" on any
// type mismatch or absence — tool arguments are caller-supplied JSON
// and never trusted to match the expected shape.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// stringSlice reads a []any of strings, skipping non-string entries.
func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intArg reads an integer argument that arrived as JSON's float64,
// reporting whether the key was present and numeric.
func intArg(args map[string]any, key string) (int, bool) {
	f, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// intOrZero is intArg without the presence flag, for call sites that
// already have a sensible zero-value fallback downstream.
func intOrZero(args map[string]any, key string) int {
	n, _ := intArg(args, key)
	return n
}

// floatArg reads a float64 argument, defaulting to 0.
func floatArg(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}

// durationArg reads an integer-seconds argument and returns it as a
// time.Duration.
func durationArg(args map[string]any, key string) time.Duration {
	n, _ := intArg(args, key)
	return time.Duration(n) * time.Second
}
