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

// Package ratelimit implements the declared-quota limiter for a
// remote provider adapter: truncated-to-minute and truncated-to-day
// counter windows (never sliding windows — the window boundary is a
// wall-clock truncation, and a window's counters are simply zeroed on
// rollover) plus a breaker the limiter itself opens when a threshold
// fraction is crossed. This breaker is distinct from backend.Breaker's
// consecutive-failure breaker; the two are composed, not merged, at
// the guarded adapter.
package ratelimit

import (
	"sync"
	"time"

	"inference-gateway/shared/metrics"
)

// Quota declares a provider's requests-per-minute, requests-per-day,
// and tokens-per-minute limits.
type Quota struct {
	RPM int
	RPD int
	TPM int
}

// Reason names which threshold tripped the breaker.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonRPM        Reason = "requests-per-minute"
	ReasonRPD        Reason = "requests-per-day"
	ReasonTPM        Reason = "tokens-per-minute"
)

// Decision is the result of Admit.
type Decision struct {
	Admitted bool
	Reason   Reason
}

// WindowStore persists the minute/day counters so they can be shared
// across processes. The in-process defaultStore is used unless
// WithWindowStore overrides it.
type WindowStore interface {
	// Load returns the counters and window-start timestamps currently
	// recorded for key, or ok=false if nothing is recorded yet.
	Load(key string) (counters windowCounters, ok bool)
	// Store persists counters for key.
	Store(key string, counters windowCounters)
}

type windowCounters struct {
	MinuteStart   time.Time
	DayStart      time.Time
	MinuteReqs    int
	DayReqs       int
	MinuteTokens  int
}

// defaultStore is a process-local map, the default WindowStore.
type defaultStore struct {
	mu   sync.Mutex
	data map[string]windowCounters
}

func newDefaultStore() *defaultStore {
	return &defaultStore{data: make(map[string]windowCounters)}
}

func (s *defaultStore) Load(key string) (windowCounters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key]
	return c, ok
}

func (s *defaultStore) Store(key string, c windowCounters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = c
}

// WarnFunc is invoked (log-only) as usage crosses 50/60/70% of any
// threshold.
type WarnFunc func(reason Reason, percent int)

// Limiter enforces Quota against truncated windows, with the
// threshold-fraction breaker described in spec.md §4.4.
type Limiter struct {
	mu       sync.Mutex
	key      string
	quota    Quota
	fraction float64
	store    WindowStore
	warn     WarnFunc

	breakerOpen   bool
	breakerReason Reason

	warnedAt map[Reason]int

	metrics  *metrics.Registry
	provider string
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindowStore overrides the default in-process WindowStore —
// typically a Redis-backed one, so the truncated windows are shared
// across multiple gateway processes guarding the same provider quota.
func WithWindowStore(s WindowStore) Option {
	return func(l *Limiter) { l.store = s }
}

// WithThresholdFraction overrides the default 0.8 admit threshold.
func WithThresholdFraction(f float64) Option {
	return func(l *Limiter) { l.fraction = f }
}

// WithWarnFunc installs a log-only callback fired as usage crosses
// 50/60/70% of any threshold.
func WithWarnFunc(fn WarnFunc) Option {
	return func(l *Limiter) { l.warn = fn }
}

// WithMetrics records usage fractions and threshold crossings against
// m, labeled by provider.
func WithMetrics(m *metrics.Registry, provider string) Option {
	return func(l *Limiter) {
		l.metrics = m
		l.provider = provider
	}
}

// New builds a Limiter for key (typically "<backend>:<model>")
// enforcing quota.
func New(key string, quota Quota, opts ...Option) *Limiter {
	l := &Limiter{
		key:      key,
		quota:    quota,
		fraction: 0.8,
		store:    newDefaultStore(),
		warnedAt: make(map[Reason]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit rolls over expired windows, checks the breaker, and — if
// closed — computes the after-this-request percentages for rpm, rpd,
// and tpm (using estimatedTokens) and opens the breaker if any
// exceeds the threshold fraction. It does not itself increment
// counters; the caller reports actual usage via RecordRequest after
// the call completes.
func (l *Limiter) Admit(estimatedTokens int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	counters := l.rollover(now)

	if l.breakerOpen {
		return Decision{Admitted: false, Reason: l.breakerReason}
	}

	nextReqs := counters.MinuteReqs + 1
	nextDayReqs := counters.DayReqs + 1
	nextTokens := counters.MinuteTokens + estimatedTokens

	if l.quota.RPM > 0 {
		l.checkWarn(ReasonRPM, nextReqs, l.quota.RPM)
		l.recordUsage("rpm", float64(nextReqs)/float64(l.quota.RPM))
		if float64(nextReqs) > float64(l.quota.RPM)*l.fraction {
			l.openBreaker(ReasonRPM)
			return Decision{Admitted: false, Reason: ReasonRPM}
		}
	}
	if l.quota.RPD > 0 {
		l.checkWarn(ReasonRPD, nextDayReqs, l.quota.RPD)
		l.recordUsage("rpd", float64(nextDayReqs)/float64(l.quota.RPD))
		if float64(nextDayReqs) > float64(l.quota.RPD)*l.fraction {
			l.openBreaker(ReasonRPD)
			return Decision{Admitted: false, Reason: ReasonRPD}
		}
	}
	if l.quota.TPM > 0 {
		l.checkWarn(ReasonTPM, nextTokens, l.quota.TPM)
		l.recordUsage("tpm", float64(nextTokens)/float64(l.quota.TPM))
		if float64(nextTokens) > float64(l.quota.TPM)*l.fraction {
			l.openBreaker(ReasonTPM)
			return Decision{Admitted: false, Reason: ReasonTPM}
		}
	}

	return Decision{Admitted: true}
}

func (l *Limiter) recordUsage(window string, fraction float64) {
	if l.metrics != nil {
		l.metrics.LimiterUsage.WithLabelValues(l.provider, window).Set(fraction)
	}
}

// RecordRequest increments the minute/day counters by one request and
// actualTokens, called after an admitted request completes.
func (l *Limiter) RecordRequest(actualTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counters := l.rollover(time.Now())
	counters.MinuteReqs++
	counters.DayReqs++
	counters.MinuteTokens += actualTokens
	l.store.Store(l.key, counters)
}

// IsOpen reports whether the limiter's own breaker is currently open.
func (l *Limiter) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.breakerOpen
}

// rollover truncates the stored windows to the current minute/day,
// zeroing counters on rollover, and auto-closes the breaker if it was
// open due to the window that just rolled over. Must be called with
// l.mu held.
func (l *Limiter) rollover(now time.Time) windowCounters {
	counters, ok := l.store.Load(l.key)
	minuteTrunc := now.Truncate(time.Minute)
	dayTrunc := now.Truncate(24 * time.Hour)

	if !ok {
		counters = windowCounters{MinuteStart: minuteTrunc, DayStart: dayTrunc}
		l.store.Store(l.key, counters)
		return counters
	}

	rolledMinute := counters.MinuteStart.Before(minuteTrunc)
	rolledDay := counters.DayStart.Before(dayTrunc)

	if rolledMinute {
		counters.MinuteStart = minuteTrunc
		counters.MinuteReqs = 0
		counters.MinuteTokens = 0
		delete(l.warnedAt, ReasonRPM)
		delete(l.warnedAt, ReasonTPM)
		if l.breakerOpen && (l.breakerReason == ReasonRPM || l.breakerReason == ReasonTPM) {
			l.breakerOpen = false
			l.breakerReason = ReasonNone
		}
	}
	if rolledDay {
		counters.DayStart = dayTrunc
		counters.DayReqs = 0
		delete(l.warnedAt, ReasonRPD)
		if l.breakerOpen && l.breakerReason == ReasonRPD {
			l.breakerOpen = false
			l.breakerReason = ReasonNone
		}
	}

	if rolledMinute || rolledDay {
		l.store.Store(l.key, counters)
	}
	return counters
}

func (l *Limiter) openBreaker(reason Reason) {
	l.breakerOpen = true
	l.breakerReason = reason
	if l.metrics != nil {
		l.metrics.LimiterThreshold.WithLabelValues(l.provider, string(reason)).Inc()
	}
}

var warnThresholds = []int{50, 60, 70}

func (l *Limiter) checkWarn(reason Reason, value, limit int) {
	if l.warn == nil || limit <= 0 {
		return
	}
	percent := (value * 100) / limit
	for _, t := range warnThresholds {
		if percent >= t && l.warnedAt[reason] < t {
			l.warnedAt[reason] = t
			l.warn(reason, t)
		}
	}
}
