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

// Package router glues the backend Registry's fallback chain to the
// capability matcher's scoring and the resource pool's admission,
// giving callers one composed entry point instead of three. Grounded
// on backend.Registry.ExecuteWithFallback's attempt-tracking shape,
// generalized with a capability-scored step inserted ahead of the
// registry's own priority order.
package router

import (
	"context"

	"inference-gateway/backend"
	"inference-gateway/capability"
	"inference-gateway/guard/pool"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
)

// Request describes one routed call.
type Request struct {
	Prompt               string
	Preferred            string
	RequiredCapabilities []capability.Capability
	FallbackOrder        []string
	ContextSize          capability.Size
	RoutingRules         []capability.RoutingRule
	Options              backend.Options
	Priority             pool.Priority
	// Exclude names the caller never wants attempted this call — e.g.
	// "local" when its active model is currently serving as the
	// orchestrator-routing model rather than a worker model.
	Exclude []string
}

// Result attributes a routed call's response to the backend that
// produced it, alongside every backend attempted first.
type Result struct {
	Response  *backend.Response
	Attempted []string
	Winner    string
}

// Router composes a backend.Registry, a capability matcher, and a
// guard/pool.Pool into one ordered, pool-bounded fallback executor.
type Router struct {
	registry *backend.Registry
	pool     *pool.Pool
	log      *logger.Logger
}

// New builds a Router over registry and pool.
func New(registry *backend.Registry, p *pool.Pool) *Router {
	return &Router{registry: registry, pool: p, log: logger.New("router")}
}

// Execute resolves attempt order per spec: (1) explicit preferred
// first, (2) the capability-scored winner next, (3) the caller's own
// fallback order, (4) the registry's priority-sorted chain. Duplicates
// across these sources are collapsed — the same backend is never
// retried within one call. Every attempt is bounded by the adapter's
// own dynamic timeout (each Adapter.Execute enforces its own) and runs
// through the shared concurrent pool.
func (r *Router) Execute(ctx context.Context, req Request) (*Result, error) {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, name := range req.Exclude {
		excluded[name] = true
	}

	available := make([]string, 0)
	for _, name := range r.availableBackends() {
		if !excluded[name] {
			available = append(available, name)
		}
	}

	order := make([]string, 0, len(available)+2)
	seen := make(map[string]bool, len(available)+2)
	push := func(name string) {
		if name == "" || seen[name] || excluded[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	push(req.Preferred)

	if len(req.RequiredCapabilities) > 0 || len(req.RoutingRules) > 0 {
		if score, err := capability.FindBestBackend(
			req.RequiredCapabilities, available, req.FallbackOrder, req.ContextSize,
			req.RoutingRules, r.backendCapabilities,
		); err == nil {
			push(score.Backend)
		}
	}
	for _, name := range req.FallbackOrder {
		push(name)
	}
	for _, name := range r.registry.FallbackChain() {
		push(name)
	}

	var attempted []string
	var lastErr error

	for _, name := range order {
		adapter, ok := r.registry.LookupAdapter(name)
		if !ok || !adapter.Available() {
			lastErr = ghcerrors.NewBackendUnavailable(name)
			continue
		}
		if !adapter.Breaker().Allow() {
			lastErr = ghcerrors.NewBackendUnavailable(name)
			continue
		}
		attempted = append(attempted, name)

		result, err := r.pool.Submit(ctx, req.Priority, func(ctx context.Context) (any, error) {
			return adapter.Execute(ctx, req.Prompt, req.Options)
		})
		if err != nil {
			adapter.Breaker().RecordFailure()
			lastErr = err
			r.log.Warn("", "backend attempt failed", map[string]any{"backend": name, "error": err.Error()})
			continue
		}
		adapter.Breaker().RecordSuccess()
		return &Result{Response: result.(*backend.Response), Attempted: attempted, Winner: name}, nil
	}

	return nil, ghcerrors.NewAllBackendsFailed(attempted, lastErr)
}

// availableBackends is the registry's priority chain filtered to
// backends currently worth trying (breaker allows it, last health
// probe was not unhealthy).
func (r *Router) availableBackends() []string {
	chain := r.registry.FallbackChain()
	out := make([]string, 0, len(chain))
	for _, name := range chain {
		if adapter, ok := r.registry.LookupAdapter(name); ok && adapter.Available() {
			out = append(out, name)
		}
	}
	return out
}

// backendCapabilities infers a backend's capability set from its
// currently active model, falling back to General when no health
// probe has run yet.
func (r *Router) backendCapabilities(name string) []capability.Capability {
	adapter, ok := r.registry.LookupAdapter(name)
	if !ok {
		return nil
	}
	h := adapter.LatestHealth()
	if h == nil || h.ActiveModel == "" {
		return []capability.Capability{capability.General}
	}
	return capability.InferCapabilities(h.ActiveModel, capability.DefaultPatterns)
}
