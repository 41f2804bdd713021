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

// Package reasoning implements the remote reasoning adapter: a
// primary model with a designated secondary fallback model, owning
// its own intra-adapter fallback so the outer Router only ever sees
// one unit of work. Grounded on orchestrator/llm/anthropic/provider.go's
// HTTP envelope shape (bespoke JSON body, x-api-key/anthropic-version
// headers, first-text-block content extraction).
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inference-gateway/backend"
	"inference-gateway/backend/sdk"
	"inference-gateway/guard/ratelimit"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
	"inference-gateway/shared/metrics"
)

// HTTPClient enables substituting a fake transport in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
)

// Config configures the reasoning adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	APIVersion     string
	PrimaryModel   string
	SecondaryModel string
	Client         HTTPClient

	// Quota, if non-zero, gates every Execute call through a
	// guard/ratelimit.Limiter composed ahead of the breaker — see
	// spec.md §4.4. Zero value leaves rate limiting disabled.
	Quota   ratelimit.Quota
	Metrics *metrics.Registry
}

// Adapter is the remote reasoning backend.Adapter implementation.
type Adapter struct {
	name string
	cfg  Config
	log  *logger.Logger

	client  HTTPClient
	breaker *backend.Breaker
	limiter *ratelimit.Limiter
	health  *backend.Health
}

// New builds an Adapter. Returns a Misconfigured error if cfg.APIKey
// is empty — a missing credential never trips the breaker (no
// upstream was contacted), so callers must surface this at
// registration time, not at first Execute.
func New(name string, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, ghcerrors.NewMisconfigured("reasoning adapter " + name + " has no API key configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 600 * time.Second}
	}
	breaker := backend.NewBreaker(backend.DefaultFailureThreshold, backend.DefaultResetTimeout)
	if cfg.Metrics != nil {
		breaker.SetMetrics(cfg.Metrics, name)
	}
	var limiter *ratelimit.Limiter
	if cfg.Quota != (ratelimit.Quota{}) {
		opts := []ratelimit.Option{}
		if cfg.Metrics != nil {
			opts = append(opts, ratelimit.WithMetrics(cfg.Metrics, name))
		}
		limiter = ratelimit.New(name, cfg.Quota, opts...)
	}
	return &Adapter{
		name:    name,
		cfg:     cfg,
		log:     logger.New("backend.reasoning").With(name),
		client:  client,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Breaker() *backend.Breaker { return a.breaker }

// Execute tries the primary model with the dynamic ≈40ms/token
// timeout (×1.5 if thinking mode), and on primary timeout, 5xx, or an
// aborted response, re-issues against the secondary model with the
// shorter fixed sdk.SecondaryTimeout.
func (a *Adapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	start := time.Now()

	if a.limiter != nil {
		maxTokens := opts.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		if dec := a.limiter.Admit(sdk.EstimateTokens(prompt) + maxTokens); !dec.Admitted {
			return nil, ghcerrors.NewRateLimited(string(dec.Reason))
		}
	}

	primaryTimeout := sdk.ReasoningTimeout(opts.MaxOutputTokens, opts.EnableThinking)
	primaryCtx, cancel := context.WithTimeout(ctx, primaryTimeout)
	resp, err := a.call(primaryCtx, a.cfg.PrimaryModel, prompt, opts)
	cancel()

	if err == nil {
		resp.LatencyMS = time.Since(start).Milliseconds()
		resp.Backend = a.name
		a.recordUsage(resp)
		return resp, nil
	}
	if !shouldFallbackToSecondary(err) || a.cfg.SecondaryModel == "" {
		return nil, classifyErr(err)
	}

	a.log.Warn("", "primary model failed, falling back to secondary", map[string]any{"error": err.Error()})

	secondaryCtx, cancel := context.WithTimeout(ctx, sdk.SecondaryTimeout)
	defer cancel()
	resp, err = a.call(secondaryCtx, a.cfg.SecondaryModel, prompt, opts)
	if err != nil {
		return nil, classifyErr(err)
	}
	resp.LatencyMS = time.Since(start).Milliseconds()
	resp.Backend = a.name
	resp.Metadata.UsedInternalFallback = true
	a.recordUsage(resp)
	return resp, nil
}

// recordUsage reports a completed request's actual token usage to the
// limiter, if one is configured.
func (a *Adapter) recordUsage(resp *backend.Response) {
	if a.limiter != nil {
		a.limiter.RecordRequest(resp.TokenCount)
	}
}

// shouldFallbackToSecondary reports whether err is the kind of
// primary-model failure spec.md §4.1 says falls back to the
// secondary: a timeout, a 5xx, or an aborted (pre-HTTP) response.
// A 4xx (bad request, auth failure) is not retried against a
// different model — it would fail identically.
func shouldFallbackToSecondary(err error) bool {
	if isDeadlineExceeded(err) {
		return true
	}
	if he, ok := err.(*httpStatusErr); ok {
		return he.status >= 500
	}
	return true // transport-level failure below the HTTP layer
}

func isDeadlineExceeded(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

type httpStatusErr struct {
	status int
	body   string
}

func (e *httpStatusErr) Error() string {
	return fmt.Sprintf("anthropic API error %d: %s", e.status, e.body)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) call(ctx context.Context, model, prompt string, opts backend.Options) (*backend.Response, error) {
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if opts.Temperature > 0 {
		apiReq.Temperature = &opts.Temperature
	}

	raw, err := json.Marshal(apiReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", a.cfg.APIVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &httpStatusErr{status: resp.StatusCode, body: string(body)}
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.ProtocolMismatch, "malformed reasoning adapter response", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &backend.Response{
		Content:    content.String(),
		TokenCount: apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		Metadata:   backend.ResponseMetadata{ModelID: apiResp.Model, FinishReason: apiResp.StopReason},
	}, nil
}

func classifyErr(err error) error {
	if he, ok := err.(*httpStatusErr); ok {
		switch {
		case he.status == 429:
			return ghcerrors.NewRateLimited("rpm")
		default:
			return ghcerrors.NewUpstreamError("reasoning", he.status, he.body, he)
		}
	}
	if isDeadlineExceeded(err) {
		return ghcerrors.NewUpstreamTimeout("reasoning", err)
	}
	return ghcerrors.Wrap(ghcerrors.UpstreamError, "reasoning adapter transport error", err)
}

// HealthProbe issues a minimal payload against the primary model.
func (a *Adapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := a.call(ctx, a.cfg.PrimaryModel, "ping", backend.Options{MaxOutputTokens: 4})

	h := &backend.Health{CheckedAt: time.Now()}
	if err != nil {
		h.Healthy = false
		h.Error = err.Error()
	} else {
		h.Healthy = true
		h.Latency = time.Since(start)
		h.ActiveModel = a.cfg.PrimaryModel
	}

	a.health = h
	return h, nil
}

func (a *Adapter) LatestHealth() *backend.Health { return a.health }

func (a *Adapter) Available() bool {
	if !a.breaker.CanAttempt() {
		return false
	}
	return a.health == nil || a.health.Healthy
}
