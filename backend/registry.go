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
	"context"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
)

// Descriptor is the registry's record of one configured backend: its
// kind, whether it is enabled, its priority (lower sorts earlier in
// the fallback chain), and an opaque per-kind config blob.
type Descriptor struct {
	Kind     Kind              `yaml:"kind"`
	Enabled  bool              `yaml:"enabled"`
	Priority int               `yaml:"priority"`
	Config   map[string]string `yaml:"config,omitempty"`
}

// Factory builds an Adapter for name from its Descriptor. Registered
// per Kind by the caller that wires the registry (cmd/gateway), never
// as a package-level global — each gateway process owns its own
// factory table, matching this codebase's "no process-wide mutable
// singletons" convention.
type Factory func(name string, d Descriptor) (Adapter, error)

// entry is the registry's internal bookkeeping for one backend name.
type entry struct {
	descriptor Descriptor
	adapter    Adapter // nil when disabled or not yet (re)materialized
	seq        int     // insertion order, for stable priority tie-breaks
}

// Registry is the named catalog of backends with a priority-sorted
// fallback chain derived from enabled entries. Adapters are
// instantiated on registration/enable of an entry and torn down on
// disable; the fallback chain is not cached but sorted fresh under the
// lock on every read, so readers always see a consistent snapshot.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	nextSeq  int
	factories map[Kind]Factory
	log      *logger.Logger
}

// NewRegistry constructs an empty Registry. factories maps each Kind
// to the constructor used to (re)materialize an adapter for entries
// of that kind.
func NewRegistry(factories map[Kind]Factory, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.New("backend.registry")
	}
	fs := make(map[Kind]Factory, len(factories))
	for k, f := range factories {
		fs[k] = f
	}
	return &Registry{
		entries:   make(map[string]*entry),
		factories: fs,
		log:       log,
	}
}

// Register adds or replaces the descriptor for name. If the
// descriptor is enabled, the adapter is instantiated immediately; a
// construction failure (e.g. a missing credential surfaced as
// Misconfigured) is returned to the caller and the entry is not
// registered.
func (r *Registry) Register(name string, d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{descriptor: d}
	if existing, ok := r.entries[name]; ok {
		e.seq = existing.seq
	} else {
		e.seq = r.nextSeq
		r.nextSeq++
	}

	if d.Enabled {
		adapter, err := r.materialize(name, d)
		if err != nil {
			return err
		}
		e.adapter = adapter
	}

	r.entries[name] = e
	return nil
}

func (r *Registry) materialize(name string, d Descriptor) (Adapter, error) {
	factory, ok := r.factories[d.Kind]
	if !ok {
		return nil, ghcerrors.NewMisconfigured("no factory registered for kind " + string(d.Kind))
	}
	return factory(name, d)
}

// Unregister removes name entirely, leaving the registry equivalent to
// before name was registered. The insertion-order counter is not
// rewound, so a later re-registration of name sorts after every entry
// of equal priority that is already present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// SetEnabled toggles name's enabled flag, materializing or tearing
// down its adapter accordingly.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return ghcerrors.NewInvalidInput("unknown backend " + name)
	}
	if e.descriptor.Enabled == enabled {
		return nil
	}
	e.descriptor.Enabled = enabled
	if enabled {
		adapter, err := r.materialize(name, e.descriptor)
		if err != nil {
			e.descriptor.Enabled = false
			return err
		}
		e.adapter = adapter
	} else {
		e.adapter = nil
	}
	return nil
}

// SetPriority updates name's priority; the fallback chain is
// recomputed lazily by every chain reader (there is no cached order
// to invalidate — readers always sort entries fresh under the lock).
func (r *Registry) SetPriority(name string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return ghcerrors.NewInvalidInput("unknown backend " + name)
	}
	e.descriptor.Priority = priority
	return nil
}

// LookupAdapter returns the adapter for name, if registered and
// currently enabled/materialized.
func (r *Registry) LookupAdapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.adapter == nil {
		return nil, false
	}
	return e.adapter, true
}

// FallbackChain returns enabled backend names ordered by ascending
// priority (lower = preferred), with ties broken by insertion order.
// The returned slice is a fresh snapshot, safe for the caller to
// range over without holding any lock.
func (r *Registry) FallbackChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallbackChainLocked()
}

func (r *Registry) fallbackChainLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.descriptor.Enabled && e.adapter != nil {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ei, ej := r.entries[names[i]], r.entries[names[j]]
		if ei.descriptor.Priority != ej.descriptor.Priority {
			return ei.descriptor.Priority < ej.descriptor.Priority
		}
		return ei.seq < ej.seq
	})
	return names
}

// NextAvailable returns the first name from the fallback chain not in
// exclude whose adapter's breaker can currently be attempted. Health
// is an orthogonal, latest-observed fact and is not re-probed here.
func (r *Registry) NextAvailable(exclude map[string]bool) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.fallbackChainLocked() {
		if exclude[name] {
			continue
		}
		if r.entries[name].adapter.Breaker().CanAttempt() {
			return name, true
		}
	}
	return "", false
}

// AllHealth returns the latest observed Health record for every
// enabled, materialized backend.
func (r *Registry) AllHealth() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Health, len(r.entries))
	for name, e := range r.entries {
		if e.adapter == nil {
			continue
		}
		if h := e.adapter.LatestHealth(); h != nil {
			out[name] = *h
		}
	}
	return out
}

// attempt records one try of execute-with-fallback, including its
// classified error when it failed.
type attempt struct {
	name string
	err  error
}

// ExecuteWithFallback attempts preferred first (if non-empty and
// available), then walks the fallback chain skipping already-attempted
// names. It returns the first success annotated with the ordered list
// of names tried before the winner, or AllBackendsFailed carrying the
// full attempt list and the last underlying error.
func (r *Registry) ExecuteWithFallback(ctx context.Context, prompt, preferred string, opts Options) (*Response, []string, error) {
	tried := make(map[string]bool)
	var attempts []attempt

	tryOne := func(name string) (*Response, bool) {
		adapter, ok := r.LookupAdapter(name)
		if !ok {
			return nil, false
		}
		tried[name] = true
		if !adapter.Breaker().Allow() {
			attempts = append(attempts, attempt{name, ghcerrors.NewBackendUnavailable(name)})
			return nil, false
		}
		resp, err := adapter.Execute(ctx, prompt, opts)
		if err != nil {
			adapter.Breaker().RecordFailure()
			attempts = append(attempts, attempt{name, err})
			return nil, false
		}
		adapter.Breaker().RecordSuccess()
		return resp, true
	}

	attempted := func() []string {
		names := make([]string, len(attempts))
		for i, a := range attempts {
			names[i] = a.name
		}
		return names
	}

	if preferred != "" {
		if resp, ok := tryOne(preferred); ok {
			return resp, attempted(), nil
		}
	}

	for {
		name, ok := r.NextAvailable(tried)
		if !ok {
			break
		}
		if resp, ok := tryOne(name); ok {
			return resp, attempted(), nil
		}
	}

	var last error
	if len(attempts) > 0 {
		last = attempts[len(attempts)-1].err
	}
	return nil, nil, ghcerrors.NewAllBackendsFailed(attempted(), last)
}

// exportDoc is the YAML document shape for ExportConfig/LoadConfig —
// a supplemented feature grounded on this codebase's Storage interface
// shape, adapted from Postgres persistence to an on-disk/YAML document
// (the only persistence this gateway's non-goals permit).
type exportDoc struct {
	Backends map[string]Descriptor `yaml:"backends"`
}

// ExportConfig serializes every registered descriptor (enabled or
// not) to a YAML document.
func (r *Registry) ExportConfig() ([]byte, error) {
	r.mu.RLock()
	doc := exportDoc{Backends: make(map[string]Descriptor, len(r.entries))}
	for name, e := range r.entries {
		doc.Backends[name] = e.descriptor
	}
	r.mu.RUnlock()
	return yaml.Marshal(doc)
}

// LoadConfig parses a YAML document produced by ExportConfig and
// registers every descriptor it contains, materializing adapters for
// the enabled ones.
func (r *Registry) LoadConfig(data []byte) error {
	var doc exportDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ghcerrors.Wrap(ghcerrors.InvalidInput, "malformed registry config document", err)
	}
	for name, d := range doc.Backends {
		if err := r.Register(name, d); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of registered entries (enabled or not).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// touchHealth probes every enabled backend once; the periodic
// health-check loop (StartPeriodicHealthCheck) is its only caller.
func (r *Registry) touchHealth(ctx context.Context, timeout time.Duration) {
	r.mu.RLock()
	names := r.fallbackChainLocked()
	r.mu.RUnlock()

	for _, name := range names {
		adapter, ok := r.LookupAdapter(name)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := adapter.HealthProbe(probeCtx)
		cancel()
		if err != nil {
			r.log.Warn("", "health probe failed", map[string]any{"backend": name, "error": err.Error()})
		}
	}
}

// StartPeriodicHealthCheck runs touchHealth on interval until ctx is
// canceled, grounded on this codebase's StartPeriodicHealthCheck
// ticker+context-cancellation idiom.
func (r *Registry) StartPeriodicHealthCheck(ctx context.Context, interval, probeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.touchHealth(ctx, probeTimeout)
			}
		}
	}()
}
