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

package backend

import (
	"sync"
	"time"

	"inference-gateway/shared/metrics"
)

// State is one of the three breaker states.
type State int

const (
	// Closed is the normal operating state: requests flow through.
	Closed State = iota
	// Open rejects every request immediately.
	Open
	// HalfOpen permits exactly one probe request after the reset
	// timeout has elapsed.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// DefaultFailureThreshold and DefaultResetTimeout are the gateway's
// per-adapter breaker defaults (spec §6 default resource limits).
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Breaker is the per-adapter circuit breaker (distinct from the
// rate-limit breaker composed at the remote-provider adapter layer —
// see guard/ratelimit). It short-circuits Execute calls to a backend
// that has failed a configurable number of times in a row.
type Breaker struct {
	mu sync.Mutex

	threshold    int
	resetTimeout time.Duration

	state               State
	consecutiveFailures int
	openedAt            time.Time

	metrics     *metrics.Registry
	metricsName string
}

// NewBreaker constructs a Breaker with the given threshold and reset
// timeout; threshold <= 0 and resetTimeout <= 0 fall back to the
// gateway defaults.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{threshold: threshold, resetTimeout: resetTimeout, state: Closed}
}

// SetMetrics attaches a metrics registry, recording every subsequent
// state transition under name (typically the owning adapter's name).
// A nil registry disables recording again.
func (b *Breaker) SetMetrics(m *metrics.Registry, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
	b.metricsName = name
	b.recordStateLocked()
}

// recordStateLocked pushes the current state onto BreakerState. Must
// be called with b.mu held.
func (b *Breaker) recordStateLocked() {
	if b.metrics == nil {
		return
	}
	var v float64
	switch b.state {
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	b.metrics.BreakerState.WithLabelValues(b.metricsName).Set(v)
}

// Allow reports whether a request should proceed. While Open, it
// returns false until the reset timeout has elapsed, at which point
// it transitions to HalfOpen and returns true exactly once — any
// concurrent caller observing HalfOpen already in effect is refused
// until the probe's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.state = HalfOpen
			b.recordStateLocked()
			return true
		}
		return false
	case HalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = Closed
	b.recordStateLocked()
}

// RecordFailure increments the consecutive-failure counter. From
// HalfOpen, any failure reopens immediately. From Closed, it opens
// once the counter reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.state == HalfOpen || b.consecutiveFailures >= b.threshold {
		wasOpen := b.state == Open
		b.state = Open
		b.openedAt = time.Now()
		b.recordStateLocked()
		if !wasOpen && b.metrics != nil {
			b.metrics.BreakerTrips.WithLabelValues(b.metricsName).Inc()
		}
	}
}

// CanAttempt peeks whether a request would currently be admitted,
// without claiming the single half-open probe slot the way Allow
// does. The registry's next-available selection uses this to ask "is
// this backend's breaker closed" without competing with the actual
// attempt for the one permitted half-open probe.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		return time.Since(b.openedAt) >= b.resetTimeout
	default:
		return false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// OpenedAt returns the timestamp the breaker last transitioned to
// Open. Zero value if it has never opened.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// ForceOpen is an operator hook that opens the breaker immediately,
// bypassing the failure threshold.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Open
	b.openedAt = time.Now()
	b.recordStateLocked()
}

// ForceClose is an operator hook that closes the breaker immediately
// and resets the failure counter.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.recordStateLocked()
	b.consecutiveFailures = 0
}
