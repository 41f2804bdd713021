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

// Package local implements the local autodiscovery adapter: it finds
// a running OpenAI-compatible server by sweeping a priority-ordered
// set of IP strategies and ports, caches the discovered endpoint, and
// re-discovers once per call on failure. Grounded on the teacher's
// bootstrapOllama shape in orchestrator/llm/bootstrap.go, generalized
// from a single well-known endpoint to the spec's IP-strategy ×
// port sweep.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"inference-gateway/backend"
	"inference-gateway/backend/sdk"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
	"inference-gateway/shared/metrics"
)

// HTTPClient enables substituting a fake transport in tests, matching
// the teacher's anthropic.HTTPClient interface convention.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultCacheTTL is how long a discovered endpoint is trusted before
// the adapter re-sweeps on the next Execute call.
const DefaultCacheTTL = 5 * time.Minute

// DefaultPorts are probed against every candidate IP, in order.
var DefaultPorts = []int{11434, 1234, 8080}

// DefaultCandidateIPs are the IP strategies swept in priority order:
// loopback, the conventional Docker/Podman host-gateway address, then
// common virtualization-host addresses. Configuration per spec.md's
// open question that this must not be hardcoded in a way an operator
// cannot override — Config.ExtraCandidateIPs appends to this list.
var DefaultCandidateIPs = []string{
	"127.0.0.1",
	"localhost",
	"host.docker.internal",
	"172.17.0.1",
	"192.168.65.2",
}

// Model is one entry from the discovered endpoint's model listing.
type Model struct {
	ID            string
	ContextWindow int
	Slots         int
}

// Config configures the local adapter.
type Config struct {
	CandidateIPs      []string // overrides DefaultCandidateIPs entirely if non-nil
	ExtraCandidateIPs []string // appended after DefaultCandidateIPs
	Ports             []int    // overrides DefaultPorts entirely if non-nil
	CacheTTL          time.Duration
	Client            HTTPClient

	// EndpointOverride, if set, skips the candidate-IP × port sweep
	// entirely and lists models directly against this base URL (spec §6,
	// LOCAL_ENDPOINT_OVERRIDE).
	EndpointOverride string

	Metrics *metrics.Registry
}

type discoveredEndpoint struct {
	baseURL    string
	models     []Model
	cachedAt   time.Time
}

// Adapter is the local autodiscovery backend.Adapter implementation.
type Adapter struct {
	name   string
	cfg    Config
	log    *logger.Logger
	client HTTPClient

	mu       sync.Mutex
	endpoint *discoveredEndpoint
	breaker  *backend.Breaker
	health   *backend.Health
}

// New builds an Adapter named name.
func New(name string, cfg Config) *Adapter {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	breaker := backend.NewBreaker(backend.DefaultFailureThreshold, backend.DefaultResetTimeout)
	if cfg.Metrics != nil {
		breaker.SetMetrics(cfg.Metrics, name)
	}
	return &Adapter{
		name:    name,
		cfg:     cfg,
		log:     logger.New("backend.local").With(name),
		client:  client,
		breaker: breaker,
	}
}

func (a *Adapter) Name() string            { return a.name }
func (a *Adapter) Breaker() *backend.Breaker { return a.breaker }

func (a *Adapter) candidateIPs() []string {
	ips := a.cfg.CandidateIPs
	if ips == nil {
		ips = DefaultCandidateIPs
	}
	return append(append([]string{}, ips...), a.cfg.ExtraCandidateIPs...)
}

func (a *Adapter) ports() []int {
	if a.cfg.Ports != nil {
		return a.cfg.Ports
	}
	return DefaultPorts
}

// discover sweeps candidate IP × port pairs, accepting the first
// endpoint whose /v1/models listing returns a non-empty model set.
func (a *Adapter) discover(ctx context.Context) (*discoveredEndpoint, error) {
	if a.cfg.EndpointOverride != "" {
		models, err := a.listModels(ctx, a.cfg.EndpointOverride)
		if err != nil || len(models) == 0 {
			return nil, ghcerrors.NewBackendUnavailable(a.name)
		}
		return &discoveredEndpoint{baseURL: a.cfg.EndpointOverride, models: models, cachedAt: time.Now()}, nil
	}
	for _, ip := range a.candidateIPs() {
		for _, port := range a.ports() {
			base := fmt.Sprintf("http://%s:%d", ip, port)
			models, err := a.listModels(ctx, base)
			if err == nil && len(models) > 0 {
				return &discoveredEndpoint{baseURL: base, models: models, cachedAt: time.Now()}, nil
			}
		}
	}
	return nil, ghcerrors.NewBackendUnavailable(a.name)
}

func (a *Adapter) listModels(ctx context.Context, baseURL string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var listing struct {
		Data []struct {
			ID            string `json:"id"`
			ContextWindow int    `json:"context_window"`
			Slots         int    `json:"slots"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(listing.Data))
	for _, d := range listing.Data {
		models = append(models, Model{ID: d.ID, ContextWindow: d.ContextWindow, Slots: d.Slots})
	}
	return models, nil
}

// endpointLocked returns the cached endpoint if still within TTL, else
// re-discovers. Must be called with a.mu held.
func (a *Adapter) endpointLocked(ctx context.Context) (*discoveredEndpoint, error) {
	if a.endpoint != nil && time.Since(a.endpoint.cachedAt) < a.cfg.CacheTTL {
		return a.endpoint, nil
	}
	ep, err := sdk.RetryWithBackoff(ctx, sdk.DefaultBackoffConfig(nil), a.discover)
	if err != nil {
		return nil, err
	}
	a.endpoint = ep
	return ep, nil
}

// selectModel implements the selection policy from spec.md §4.1:
// honor an explicit router-model hint; else prefer largest context
// for large content or an explicit prefer-context request; else
// prefer the largest slot count for prefer-speed; else the first
// loaded model. If the requested model is not loaded, substitute the
// first loaded one.
func selectModel(models []Model, promptLen int, opts backend.Options) Model {
	if opts.RouterModel != "" {
		for _, m := range models {
			if m.ID == opts.RouterModel {
				return m
			}
		}
		return models[0]
	}
	if promptLen > 20000 || opts.PreferContext {
		return largestContext(models)
	}
	if opts.PreferSpeed {
		return largestSlotCount(models)
	}
	return models[0]
}

func largestContext(models []Model) Model {
	best := models[0]
	for _, m := range models[1:] {
		if m.ContextWindow > best.ContextWindow {
			best = m
		}
	}
	return best
}

func largestSlotCount(models []Model) Model {
	best := models[0]
	for _, m := range models[1:] {
		if m.Slots > best.Slots {
			best = m
		}
	}
	return best
}

// Execute issues a completion against the discovered endpoint,
// re-discovering once on failure before giving up.
func (a *Adapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	start := time.Now()
	timeout := sdk.LocalTimeout(opts.MaxOutputTokens)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retried := false
	for {
		a.mu.Lock()
		ep, err := a.endpointLocked(ctx)
		a.mu.Unlock()
		if err != nil {
			return nil, err
		}

		model := selectModel(ep.models, len(prompt), opts)
		resp, err := a.complete(ctx, ep.baseURL, model.ID, prompt, opts)
		if err != nil {
			if !retried {
				retried = true
				a.mu.Lock()
				a.endpoint = nil
				a.mu.Unlock()
				continue
			}
			return nil, classifyErr(err)
		}

		resp.LatencyMS = time.Since(start).Milliseconds()
		resp.Backend = a.name
		resp.Metadata.ModelID = model.ID
		return resp, nil
	}
}

func (a *Adapter) complete(ctx context.Context, baseURL, model, prompt string, opts backend.Options) (*backend.Response, error) {
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if opts.MaxOutputTokens > 0 {
		body["max_tokens"] = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		body["temperature"] = opts.Temperature
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.ProtocolMismatch, "malformed local endpoint response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "local endpoint returned no choices")
	}

	return &backend.Response{
		Content:    parsed.Choices[0].Message.Content,
		TokenCount: parsed.Usage.TotalTokens,
		Metadata:   backend.ResponseMetadata{FinishReason: parsed.Choices[0].FinishReason},
	}, nil
}

func classifyErr(err error) error {
	if ge, ok := ghcerrors.As(err); ok {
		return ge
	}
	return ghcerrors.Wrap(ghcerrors.UpstreamError, "local adapter request failed", err)
}

// HealthProbe checks that an endpoint with a non-empty model listing
// is reachable, reusing the cached discovery while it is within TTL
// and re-sweeping otherwise.
func (a *Adapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	a.mu.Lock()
	ep, err := a.endpointLocked(ctx)
	a.mu.Unlock()

	h := &backend.Health{CheckedAt: time.Now()}
	if err != nil {
		h.Healthy = false
		h.Error = err.Error()
	} else {
		h.Healthy = true
		h.Latency = time.Since(start)
		if len(ep.models) > 0 {
			models := append([]Model(nil), ep.models...)
			sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
			h.ActiveModel = models[0].ID
		}
	}

	a.mu.Lock()
	a.health = h
	a.mu.Unlock()
	return h, nil
}

func (a *Adapter) LatestHealth() *backend.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// SlotCount returns the discovered endpoint's advertised slot count
// (the largest reported across its loaded models), for the parallel
// agents orchestrator's capacity-discovery stage. Returns false if
// the endpoint cannot currently be discovered.
func (a *Adapter) SlotCount(ctx context.Context) (int, bool) {
	a.mu.Lock()
	ep, err := a.endpointLocked(ctx)
	a.mu.Unlock()
	if err != nil || len(ep.models) == 0 {
		return 0, false
	}
	best := 0
	for _, m := range ep.models {
		if m.Slots > best {
			best = m.Slots
		}
	}
	return best, best > 0
}

// Available reports breaker-closed-or-probing AND last health good.
func (a *Adapter) Available() bool {
	if !a.breaker.CanAttempt() {
		return false
	}
	h := a.LatestHealth()
	return h == nil || h.Healthy
}
