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

// Package fastmodel implements the remote fast adapter, owning Azure
// OpenAI's deployment-routed URL shape and OpenAI-compatible chat
// completion body, distinct from both the reasoning and code adapters'
// schemas. Grounded on orchestrator/llm/azure/provider.go's
// buildURL/openAIResponse shape.
package fastmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	DefaultAPIVersion      = "2024-02-01"
	DefaultTimeout         = 30 * time.Second // this adapter favors low latency over large outputs
	DefaultMaxOutputTokens = 2048
)

// Config configures the fast adapter.
type Config struct {
	APIKey         string
	Endpoint       string // https://{resource}.openai.azure.com
	DeploymentName string
	APIVersion     string
	Timeout        time.Duration
	Client         HTTPClient

	Quota   ratelimit.Quota
	Metrics *metrics.Registry
}

// Adapter is the remote fast backend.Adapter implementation.
type Adapter struct {
	name    string
	cfg     Config
	log     *logger.Logger
	client  HTTPClient
	breaker *backend.Breaker
	limiter *ratelimit.Limiter
	health  *backend.Health
}

// New builds an Adapter. A missing API key or deployment name is
// Misconfigured.
func New(name string, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, ghcerrors.NewMisconfigured("fast adapter " + name + " has no API key configured")
	}
	if cfg.DeploymentName == "" {
		return nil, ghcerrors.NewMisconfigured("fast adapter " + name + " has no deployment name configured")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
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
		log:     logger.New("backend.fastmodel").With(name),
		client:  client,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Breaker() *backend.Breaker { return a.breaker }

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) buildURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.cfg.Endpoint, a.cfg.DeploymentName, a.cfg.APIVersion)
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
	apiReq := chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}
	raw, err := json.Marshal(apiReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.buildURL(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.UpstreamError, "fast adapter transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == 429 {
			return nil, ghcerrors.NewRateLimited("rpm")
		}
		return nil, ghcerrors.NewUpstreamError("fast", resp.StatusCode, "non-2xx response", nil)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.ProtocolMismatch, "malformed fast adapter response", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "fast adapter returned no choices")
	}

	result := &backend.Response{
		Content:    apiResp.Choices[0].Message.Content,
		TokenCount: apiResp.Usage.TotalTokens,
		Backend:    a.name,
		LatencyMS:  time.Since(start).Milliseconds(),
		Metadata: backend.ResponseMetadata{
			ModelID:      apiResp.Model,
			FinishReason: apiResp.Choices[0].FinishReason,
		},
	}
	if a.limiter != nil {
		a.limiter.RecordRequest(result.TokenCount)
	}
	return result, nil
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
		h.ActiveModel = a.cfg.DeploymentName
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
