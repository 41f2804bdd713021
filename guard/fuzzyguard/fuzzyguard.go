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

// Package fuzzyguard is the DoS pre-check for fuzzy-edit requests
// (spec.md §4.6): a cheap structural and size validator that runs
// before the actual (out-of-scope) fuzzy-matching work, plus scalar
// clamps and a timeout wrapper for that work.
package fuzzyguard

import (
	"context"
	"strings"
	"time"
)

// Limits bounds a single validate call; DefaultLimits matches the
// spec's defaults.
type Limits struct {
	MaxSingle int // max length of a single find/replace string
	MaxLines  int // max newline-count within a single find string
	MaxTotal  int // max combined find+replace characters across all edits
}

// DefaultLimits are the spec's defaults: 5000/200/50000.
var DefaultLimits = Limits{MaxSingle: 5000, MaxLines: 200, MaxTotal: 50000}

// Edit is one proposed fuzzy find/replace pair.
type Edit struct {
	Find    string
	Replace string
}

// Result is validate's outcome.
type Result struct {
	Valid     bool
	Errors    []string
	TotalChars int
	EditCount int
}

// MetricEvent names a guard-rejection event emitted to the caller's
// metric sink on every hit.
type MetricEvent string

const (
	EventEmptyInput    MetricEvent = "fuzzyguard.empty_input"
	EventNotArray      MetricEvent = "fuzzyguard.not_array"
	EventBadItem       MetricEvent = "fuzzyguard.bad_item"
	EventSingleTooLong MetricEvent = "fuzzyguard.single_too_long"
	EventTooManyLines  MetricEvent = "fuzzyguard.too_many_lines"
	EventTotalTooLarge MetricEvent = "fuzzyguard.total_too_large"
	EventTimeout       MetricEvent = "fuzzyguard.timeout"
)

// MetricSink receives a MetricEvent on every guard hit; nil is a
// valid no-op sink.
type MetricSink func(MetricEvent)

// Validate checks edits against limits (DefaultLimits if zero value),
// emitting a metric event via emit on every rejection reason hit. A
// nil or empty edits slice is itself a rejection (EventEmptyInput).
func Validate(edits []Edit, limits Limits, emit MetricSink) Result {
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	fire := func(e MetricEvent) {
		if emit != nil {
			emit(e)
		}
	}

	if len(edits) == 0 {
		fire(EventEmptyInput)
		return Result{Valid: false, Errors: []string{"edits must be a non-empty array"}}
	}

	var errs []string
	total := 0

	for i, e := range edits {
		singleTooLong := len(e.Find) > limits.MaxSingle || len(e.Replace) > limits.MaxSingle
		if singleTooLong {
			fire(EventSingleTooLong)
			errs = append(errs, indexedErr(i, "find/replace exceeds max single length"))
		}
		lines := strings.Count(e.Find, "\n")
		if lines > limits.MaxLines {
			fire(EventTooManyLines)
			errs = append(errs, indexedErr(i, "find spans too many lines"))
		}
		total += len(e.Find) + len(e.Replace)
	}

	if total > limits.MaxTotal {
		fire(EventTotalTooLarge)
		errs = append(errs, "total characters across all edits exceeds limit")
	}

	return Result{
		Valid:      len(errs) == 0,
		Errors:     errs,
		TotalChars: total,
		EditCount:  len(edits),
	}
}

// ValidateRaw is Validate's entry point for an input that has not
// already been type-asserted into []Edit — it rejects a non-array
// shape or any item missing string find/replace fields before
// delegating to Validate.
func ValidateRaw(raw any, limits Limits, emit MetricSink) Result {
	fire := func(e MetricEvent) {
		if emit != nil {
			emit(e)
		}
	}

	items, ok := raw.([]any)
	if !ok {
		fire(EventNotArray)
		return Result{Valid: false, Errors: []string{"edits must be an array"}}
	}
	if len(items) == 0 {
		fire(EventEmptyInput)
		return Result{Valid: false, Errors: []string{"edits must be a non-empty array"}}
	}

	edits := make([]Edit, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			fire(EventBadItem)
			return Result{Valid: false, Errors: []string{indexedErr(i, "item must be an object")}}
		}
		find, fOK := m["find"].(string)
		replace, rOK := m["replace"].(string)
		if !fOK || !rOK {
			fire(EventBadItem)
			return Result{Valid: false, Errors: []string{indexedErr(i, "item must have string find and replace")}}
		}
		edits = append(edits, Edit{Find: find, Replace: replace})
	}

	return Validate(edits, limits, emit)
}

func indexedErr(i int, msg string) string {
	return "edit " + itoa(i) + ": " + msg
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ClampThreshold bounds a fuzzy-match threshold to [0.1, 1.0]
// (default 0.8 when the caller passes 0).
func ClampThreshold(v float64) float64 {
	if v == 0 {
		v = 0.8
	}
	switch {
	case v < 0.1:
		return 0.1
	case v > 1.0:
		return 1.0
	default:
		return v
	}
}

// ClampMaxSuggestions bounds a max-suggestions count to [1, 10]
// (default 3 when the caller passes 0).
func ClampMaxSuggestions(n int) int {
	if n == 0 {
		n = 3
	}
	switch {
	case n < 1:
		return 1
	case n > 10:
		return 10
	default:
		return n
	}
}

// DefaultWorkTimeout is the default deadline WithTimeout races work
// against.
const DefaultWorkTimeout = 5 * time.Second

// WithTimeout races work against timeout (DefaultWorkTimeout if 0),
// emitting EventTimeout via emit if the deadline is hit first. work is
// the actual fuzzy-matching implementation, which lives outside this
// package.
func WithTimeout(ctx context.Context, timeout time.Duration, emit MetricSink, work func(context.Context) (any, error)) (any, error) {
	if timeout == 0 {
		timeout = DefaultWorkTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := work(ctx)
		done <- outcome{val, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		if emit != nil {
			emit(EventTimeout)
		}
		return nil, ctx.Err()
	}
}
