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

// Package code implements the remote code adapter, owning Gemini's
// generateContent request/response schema (camelCase "generationConfig",
// "candidates" array, "usageMetadata"). Grounded on
// orchestrator/llm/gemini/provider.go's request/response shape.
package code

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultTimeout and DefaultMaxOutputTokens are this adapter's own
// defaults, distinct from reasoning's token-budget-scaled timeout —
// spec.md §4.1 calls out that each remote-code/-fast/-premium adapter
// has its own default timeout and output cap.
const (
	DefaultTimeout         = 90 * time.Second
	DefaultMaxOutputTokens = 8192
)

// Config configures the code adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Client  HTTPClient

	Quota   ratelimit.Quota
	Metrics *metrics.Registry
}

// Adapter is the remote code backend.Adapter implementation.
type Adapter struct {
	name    string
	cfg     Config
	log     *logger.Logger
	client  HTTPClient
	breaker *backend.Breaker
	limiter *ratelimit.Limiter
	health  *backend.Health
}

// New builds an Adapter. A missing API key is Misconfigured and never
// trips the breaker.
func New(name string, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, ghcerrors.NewMisconfigured("code adapter " + name + " has no API key configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
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
		log:     logger.New("backend.code").With(name),
		client:  client,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Breaker() *backend.Breaker { return a.breaker }

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (a *Adapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	if a.limiter != nil {
		if dec := a.limiter.Admit(sdk.EstimateTokens(prompt) + maxTokens); !dec.Admitted {
			return nil, ghcerrors.NewRateLimited(string(dec.Reason))
		}
	}
	apiReq := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
		},
	}
	raw, err := json.Marshal(apiReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.cfg.BaseURL, a.cfg.Model, a.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.UpstreamError, "code adapter transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.ProtocolMismatch, "malformed code adapter response", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "code adapter returned no candidates")
	}

	var content strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	result := &backend.Response{
		Content:    content.String(),
		TokenCount: apiResp.UsageMetadata.TotalTokenCount,
		Backend:    a.name,
		LatencyMS:  time.Since(start).Milliseconds(),
		Metadata: backend.ResponseMetadata{
			ModelID:      a.cfg.Model,
			FinishReason: apiResp.Candidates[0].FinishReason,
		},
	}
	if a.limiter != nil {
		a.limiter.RecordRequest(result.TokenCount)
	}
	return result, nil
}

func classifyStatus(status int) error {
	switch {
	case status == 429:
		return ghcerrors.NewRateLimited("rpm")
	default:
		return ghcerrors.NewUpstreamError("code", status, "non-2xx response", nil)
	}
}

func (a *Adapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := a.Execute(ctx, "ping", backend.Options{MaxOutputTokens: 4})

	h := &backend.Health{CheckedAt: time.Now()}
	if err != nil {
		h.Healthy = false
		h.Error = err.Error()
	} else {
		h.Healthy = true
		h.Latency = time.Since(start)
		h.ActiveModel = a.cfg.Model
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
