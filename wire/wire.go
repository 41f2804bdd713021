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

// Package wire implements the gateway's external stdio surface
// (spec.md §4.12): a line-delimited JSON tool dispatcher plus an
// optional HTTP dashboard. It is the last hop before a response
// leaves the process, so it also owns output sanitization.
package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"time"

	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
)

// Call is one incoming tool invocation.
type Call struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Response is the uniform envelope every tool call returns.
type Response struct {
	Success          bool           `json:"success"`
	Payload          map[string]any `json:"-"`
	Error            string         `json:"error,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms,omitempty"`
}

// Handler implements one tool.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// controlCharPattern matches every control character except tab and
// newline, which are left intact inside string values per spec.
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b-\x1f]`)

// Dispatcher routes Call.Tool to a registered Handler and serializes
// the result as one line-delimited JSON Response.
type Dispatcher struct {
	handlers map[string]Handler
	log      *logger.Logger
	now      func() time.Time
}

// NewDispatcher builds an empty Dispatcher; register tools with
// Register before calling Serve.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		log:      logger.New("wire"),
		now:      time.Now,
	}
}

// Register binds name to fn. Re-registering a name overwrites it.
func (d *Dispatcher) Register(name string, fn Handler) {
	d.handlers[name] = fn
}

// Serve reads one JSON Call per line from r until EOF or ctx
// cancellation, writing one JSON Response per line to w. Malformed
// input lines produce an InvalidInput-classified error response
// rather than terminating the loop.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := d.dispatchLine(ctx, line)
		if err := writeResponse(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (d *Dispatcher) dispatchLine(ctx context.Context, line string) Response {
	start := d.now()

	var call Call
	if err := json.Unmarshal([]byte(line), &call); err != nil {
		return errorResponse(ghcerrors.NewInvalidInput("malformed call: "+err.Error()), d.now().Sub(start))
	}

	handler, ok := d.handlers[call.Tool]
	if !ok {
		return errorResponse(ghcerrors.NewInvalidInput("unknown tool "+call.Tool), d.now().Sub(start))
	}

	payload, err := handler(ctx, call.Arguments)
	elapsed := d.now().Sub(start)
	if err != nil {
		d.log.Warn("", "tool call failed", map[string]any{"tool": call.Tool, "error": err.Error()})
		return errorResponse(err, elapsed)
	}
	return Response{Success: true, Payload: payload, ProcessingTimeMS: elapsed.Milliseconds()}
}

func errorResponse(err error, elapsed time.Duration) Response {
	msg := err.Error()
	if ge, ok := ghcerrors.As(err); ok {
		msg = ge.Message
	}
	return Response{Success: false, Error: sanitize(msg), ProcessingTimeMS: elapsed.Milliseconds()}
}

// sanitize strips control characters (other than tab/newline) from an
// outgoing string field, per spec.md §4.12/§6's output sanitizer.
func sanitize(s string) string {
	return controlCharPattern.ReplaceAllString(s, "")
}

// sanitizePayload recursively sanitizes every string value reachable
// from payload before it is serialized.
func sanitizePayload(v any) any {
	switch t := v.(type) {
	case string:
		return sanitize(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitizePayload(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizePayload(val)
		}
		return out
	default:
		return v
	}
}

// writeResponse flattens Response into one JSON object line: the
// envelope fields plus Payload's keys merged in (payload keys never
// shadow success/error/processing_time_ms).
func writeResponse(w io.Writer, resp Response) error {
	out := map[string]any{"success": resp.Success}
	for k, v := range resp.Payload {
		if k == "success" || k == "error" || k == "processing_time_ms" {
			continue
		}
		out[k] = sanitizePayload(v)
	}
	if resp.Error != "" {
		out["error"] = resp.Error
	}
	if resp.ProcessingTimeMS > 0 {
		out["processing_time_ms"] = resp.ProcessingTimeMS
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}
