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

// Package ghcerrors defines the closed error taxonomy shared by every
// gateway component: backend adapters, the registry, the router, the
// resource guards, and the orchestrator all surface failures through
// the same tagged struct so callers can branch on Kind without string
// matching.
package ghcerrors

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable classification of a gateway failure.
type Kind string

const (
	// InvalidInput marks a validation failure (unknown role, rejected
	// fuzzy edits, malformed JSON argument).
	InvalidInput Kind = "invalid_input"

	// Misconfigured marks a missing credential or an endpoint that
	// resolved but does not list the requested model. Never trips a
	// breaker: no upstream was contacted.
	Misconfigured Kind = "misconfigured"

	// RateLimited marks a proactive guard denial or an upstream 429.
	RateLimited Kind = "rate_limited"

	// BackendUnavailable marks an adapter breaker that is open; no
	// upstream attempt was made.
	BackendUnavailable Kind = "backend_unavailable"

	// UpstreamTimeout marks a request deadline exceeded.
	UpstreamTimeout Kind = "upstream_timeout"

	// UpstreamError marks a non-2xx response or a transport failure
	// below the HTTP layer (connection refused, reset).
	UpstreamError Kind = "upstream_error"

	// ProtocolMismatch marks a response that was received but could
	// not be parsed against the expected schema.
	ProtocolMismatch Kind = "protocol_mismatch"

	// AllBackendsFailed marks a fallback chain exhausted without a
	// success; it carries the full attempt list.
	AllBackendsFailed Kind = "all_backends_failed"

	// QualityGateFailed marks an orchestrator run that reached its
	// iteration limit without a "pass" verdict.
	QualityGateFailed Kind = "quality_gate_failed"
)

// Error is the shared tagged error type. Components construct one via
// the New* helpers rather than building the struct directly so the
// Retryable bit stays consistent with Kind.
type Error struct {
	Kind        Kind
	Message     string
	Cause       error
	StatusCode  int      `json:"status_code,omitempty"`
	Attempts    []string `json:"attempts,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a fresh attempt against a different
// backend is worth making. It does not mean "retry this same backend".
func (e *Error) Retryable() bool {
	switch e.Kind {
	case RateLimited, BackendUnavailable, UpstreamTimeout, UpstreamError:
		return true
	default:
		return false
	}
}

// New builds a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewInvalidInput builds an InvalidInput error, optionally carrying
// "did you mean" suggestions (nearest role name, etc).
func NewInvalidInput(message string, suggestions ...string) *Error {
	return &Error{Kind: InvalidInput, Message: message, Suggestions: suggestions}
}

// NewMisconfigured builds a Misconfigured error.
func NewMisconfigured(message string) *Error {
	return &Error{Kind: Misconfigured, Message: message}
}

// NewRateLimited builds a RateLimited error naming the threshold that
// tripped (e.g. "rpm", "rpd", "tpm").
func NewRateLimited(threshold string) *Error {
	return &Error{Kind: RateLimited, Message: fmt.Sprintf("%s threshold exceeded", threshold)}
}

// NewBackendUnavailable builds a BackendUnavailable error for name.
func NewBackendUnavailable(name string) *Error {
	return &Error{Kind: BackendUnavailable, Message: fmt.Sprintf("backend %q breaker is open", name)}
}

// NewUpstreamTimeout builds an UpstreamTimeout error.
func NewUpstreamTimeout(name string, cause error) *Error {
	return &Error{Kind: UpstreamTimeout, Message: fmt.Sprintf("backend %q timed out", name), Cause: cause}
}

// NewUpstreamError builds an UpstreamError carrying an HTTP status
// code (0 if the failure never reached the HTTP layer).
func NewUpstreamError(name string, statusCode int, message string, cause error) *Error {
	return &Error{Kind: UpstreamError, Message: fmt.Sprintf("backend %q: %s", name, message), StatusCode: statusCode, Cause: cause}
}

// NewProtocolMismatch builds a ProtocolMismatch error.
func NewProtocolMismatch(name string, cause error) *Error {
	return &Error{Kind: ProtocolMismatch, Message: fmt.Sprintf("backend %q returned an unparsable response", name), Cause: cause}
}

// NewAllBackendsFailed builds an AllBackendsFailed error carrying the
// ordered attempt list and the last underlying error.
func NewAllBackendsFailed(attempted []string, last error) *Error {
	return &Error{
		Kind:     AllBackendsFailed,
		Message:  fmt.Sprintf("all %d backend(s) failed", len(attempted)),
		Cause:    last,
		Attempts: attempted,
	}
}

// NewQualityGateFailed builds a QualityGateFailed error.
func NewQualityGateFailed(iterations int) *Error {
	return &Error{Kind: QualityGateFailed, Message: fmt.Sprintf("quality gate did not pass within %d iteration(s)", iterations)}
}

// As reports whether err (or something it wraps) is a *Error, and if
// so returns it — a thin convenience over errors.As so
// callers don't need to spell out the type at every call site.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// UpstreamError otherwise — a safe default for classifying an
// unexpected error that escaped a component boundary.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return UpstreamError
}
