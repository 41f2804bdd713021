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

// Package metrics wires the gateway's components to a single
// Prometheus registry: adapter latency and breaker trips, rate-limit
// threshold crossings, pool queue wait and throughput, and
// orchestrator iteration counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the gateway exposes. A single
// instance is constructed in cmd/gateway and threaded into every
// component constructor — no package-level global state.
type Registry struct {
	reg *prometheus.Registry

	AdapterRequests   *prometheus.CounterVec
	AdapterLatency    *prometheus.HistogramVec
	BreakerTrips      *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	LimiterThreshold  *prometheus.CounterVec
	LimiterUsage      *prometheus.GaugeVec
	PoolQueueWait     prometheus.Histogram
	PoolActive        prometheus.Gauge
	PoolThroughput    prometheus.Gauge
	FuzzyGuardReject  *prometheus.CounterVec
	OrchestratorIters prometheus.Counter
}

// New constructs a Registry and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		AdapterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_adapter_requests_total",
			Help: "Adapter requests by backend name and outcome.",
		}, []string{"backend", "outcome"}),
		AdapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_adapter_latency_seconds",
			Help:    "Adapter round-trip latency by backend name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_breaker_trips_total",
			Help: "Breaker open transitions by backend name.",
		}, []string{"backend"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Breaker state by backend name (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
		LimiterThreshold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_threshold_crossings_total",
			Help: "Rate-limit threshold crossings by provider and threshold name.",
		}, []string{"provider", "threshold"}),
		LimiterUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_ratelimit_usage_fraction",
			Help: "Current usage fraction by provider and window (rpm, rpd, tpm).",
		}, []string{"provider", "window"}),
		PoolQueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_pool_queue_wait_seconds",
			Help:    "Time spent queued before admission to the concurrent pool.",
			Buckets: prometheus.DefBuckets,
		}),
		PoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pool_active_requests",
			Help: "Currently active requests in the concurrent pool.",
		}),
		PoolThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pool_throughput_per_second",
			Help: "Rolling completions-per-second observed by the concurrent pool.",
		}),
		FuzzyGuardReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fuzzyguard_rejections_total",
			Help: "Fuzzy-edit guard rejections by reason.",
		}, []string{"reason"}),
		OrchestratorIters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_orchestrator_quality_iterations_total",
			Help: "Quality-gate iterations across all orchestrator runs.",
		}),
	}

	reg.MustRegister(
		m.AdapterRequests, m.AdapterLatency, m.BreakerTrips, m.BreakerState,
		m.LimiterThreshold, m.LimiterUsage, m.PoolQueueWait, m.PoolActive,
		m.PoolThroughput, m.FuzzyGuardReject, m.OrchestratorIters,
	)
	return m
}

// Gatherer exposes the underlying registry for an HTTP /metrics
// handler (wired by the optional dashboard surface).
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}
