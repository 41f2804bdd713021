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

// Package premium implements the remote premium adapter over AWS
// Bedrock's Converse API, the one variant adapter whose wire protocol
// is not raw HTTP JSON but an AWS SDK client call. Grounded on
// itsneelabh-gomind/ai/providers/bedrock/client.go's Converse usage.
package premium

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"inference-gateway/backend"
	"inference-gateway/backend/sdk"
	"inference-gateway/guard/ratelimit"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
	"inference-gateway/shared/metrics"
)

const DefaultTimeout = 120 * time.Second

// BedrockAPI is the subset of *bedrockruntime.Client this adapter
// calls, narrowed so tests can substitute a scripted fake.
type BedrockAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Config configures the premium adapter.
type Config struct {
	Region     string
	ModelID    string
	Timeout    time.Duration
	Client     BedrockAPI // overridden in tests; built from Region otherwise
	Credential aws.CredentialsProvider

	Quota   ratelimit.Quota
	Metrics *metrics.Registry
}

// Adapter is the remote premium backend.Adapter implementation.
type Adapter struct {
	name    string
	cfg     Config
	log     *logger.Logger
	client  BedrockAPI
	breaker *backend.Breaker
	limiter *ratelimit.Limiter
	health  *backend.Health
}

// New builds an Adapter. A missing region or model ID is Misconfigured.
// If cfg.Client is nil, New loads the default AWS config chain (IAM
// role, environment, profile) to construct the Bedrock Runtime client.
func New(ctx context.Context, name string, cfg Config) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, ghcerrors.NewMisconfigured("premium adapter " + name + " has no AWS region configured")
	}
	if cfg.ModelID == "" {
		return nil, ghcerrors.NewMisconfigured("premium adapter " + name + " has no model id configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.Client
	if client == nil {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.Credential != nil {
			opts = append(opts, awsconfig.WithCredentialsProvider(cfg.Credential))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, ghcerrors.NewMisconfigured("premium adapter " + name + " could not load AWS config: " + err.Error())
		}
		client = bedrockruntime.NewFromConfig(awsCfg)
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
		log:     logger.New("backend.premium").With(name),
		client:  client,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Breaker() *backend.Breaker { return a.breaker }

func (a *Adapter) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if a.limiter != nil {
		maxTokens := opts.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		if dec := a.limiter.Admit(sdk.EstimateTokens(prompt) + maxTokens); !dec.Admitted {
			return nil, ghcerrors.NewRateLimited(string(dec.Reason))
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.cfg.ModelID),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
			},
		},
	}

	inferenceConfig := &types.InferenceConfiguration{}
	configSet := false
	if opts.MaxOutputTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(opts.MaxOutputTokens))
		configSet = true
	}
	if opts.Temperature > 0 {
		inferenceConfig.Temperature = aws.Float32(float32(opts.Temperature))
		configSet = true
	}
	if configSet {
		input.InferenceConfig = inferenceConfig
	}

	output, err := a.client.Converse(ctx, input)
	if err != nil {
		return nil, classifyErr(err)
	}
	if output.Output == nil {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "premium adapter received no output from Bedrock")
	}

	var content string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				content += tb.Value
			}
		}
	default:
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "premium adapter received an unexpected Bedrock output type")
	}
	if content == "" {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch, "premium adapter received no text content from Bedrock")
	}

	var tokens int
	if output.Usage != nil {
		if output.Usage.TotalTokens != nil {
			tokens = int(*output.Usage.TotalTokens)
		}
	}

	resp := &backend.Response{
		Content:    content,
		TokenCount: tokens,
		Backend:    a.name,
		LatencyMS:  time.Since(start).Milliseconds(),
		Metadata:   backend.ResponseMetadata{ModelID: a.cfg.ModelID, FinishReason: string(output.StopReason)},
	}
	if a.limiter != nil {
		a.limiter.RecordRequest(resp.TokenCount)
	}
	return resp, nil
}

// classifyErr maps a Bedrock/Smithy error into the shared error
// taxonomy. Bedrock surfaces throttling and HTTP status through the
// smithy response error rather than a raw status code.
func classifyErr(err error) error {
	var respErr *smithyhttp.ResponseError
	if ok := isResponseError(err, &respErr); ok {
		switch {
		case respErr.Response.StatusCode == 429:
			return ghcerrors.NewRateLimited("rpm")
		case respErr.Response.StatusCode >= 500:
			return ghcerrors.NewUpstreamError("premium", respErr.Response.StatusCode, "bedrock server error", err)
		default:
			return ghcerrors.NewUpstreamError("premium", respErr.Response.StatusCode, "bedrock error", err)
		}
	}
	return ghcerrors.Wrap(ghcerrors.UpstreamError, "premium adapter transport error", err)
}

func isResponseError(err error, target **smithyhttp.ResponseError) bool {
	for err != nil {
		if re, ok := err.(*smithyhttp.ResponseError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (a *Adapter) HealthProbe(ctx context.Context) (*backend.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
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
		h.ActiveModel = a.cfg.ModelID
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
