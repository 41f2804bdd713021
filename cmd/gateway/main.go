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

// Command gateway runs the inference gateway: a stdio line-delimited
// JSON tool dispatcher in front of a local-first, multi-backend LLM
// fallback chain, a role-driven subagent executor, and the parallel
// agents orchestrator.
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	REASONING_API_KEY         - remote reasoning backend credential
//	REASONING_ENDPOINT        - Anthropic-compatible base URL override
//	REASONING_MODEL           - primary reasoning model
//	REASONING_SECONDARY_MODEL - fallback reasoning model
//	CODE_API_KEY              - remote code backend credential
//	CODE_ENDPOINT             - Gemini-compatible base URL override
//	CODE_MODEL                - code model
//	CODE_TIMEOUT_SECONDS      - code adapter request timeout
//	FAST_API_KEY              - remote fast backend credential
//	FAST_ENDPOINT             - Azure OpenAI resource endpoint
//	FAST_MODEL                - Azure OpenAI deployment name
//	PREMIUM_AWS_REGION        - remote premium (Bedrock) region
//	PREMIUM_MODEL             - Bedrock model id
//	LOCAL_ENDPOINT_OVERRIDE   - override for local endpoint autodiscovery
//	DASHBOARD_ENABLED         - "true" to start the read-only HTTP dashboard
//	DASHBOARD_PORT            - dashboard port (default 8088)
//	POOL_SIZE                 - concurrent-pool capacity (default 250)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inference-gateway/backend"
	"inference-gateway/backend/code"
	"inference-gateway/backend/fastmodel"
	"inference-gateway/backend/local"
	"inference-gateway/backend/premium"
	"inference-gateway/backend/reasoning"
	"inference-gateway/fileops"
	"inference-gateway/guard/pool"
	"inference-gateway/orchestrator/agents"
	"inference-gateway/role"
	"inference-gateway/router"
	"inference-gateway/shared/config"
	"inference-gateway/shared/logger"
	"inference-gateway/shared/metrics"
	"inference-gateway/wire"
)

func main() {
	log := logger.New("cmd.gateway")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	m := metrics.New()

	registry, localAdapter := buildRegistry(log, m)
	registry.StartPeriodicHealthCheck(ctx, time.Minute, 5*time.Second)

	p := pool.New(config.GetInt(config.EnvPoolSize, 250), m)
	r := router.New(registry, p)

	roles := role.NewDefaultRegistry()
	collab := fileops.NewMock(nil) // replaced with a real collaborator by the embedding process
	executor := role.New(roles, r, collab, nil)
	if localAdapter != nil {
		executor = executor.WithLocalModelProbe(func() (string, string) {
			h := localAdapter.LatestHealth()
			if h == nil {
				return "", ""
			}
			return h.ActiveModel, ""
		})
	}

	var prober agents.SlotProber
	if localAdapter != nil {
		prober = localAdapter
	}
	orch := agents.New(executor, prober, m)

	if config.GetBool(config.EnvDashboardEnabled, false) {
		go runDashboard(log, registry, p, m)
	}

	d := wire.NewDispatcher()
	wire.RegisterCoreTools(d, executor, orch, registry)
	wire.RegisterFileOpsTools(d, collab, m)

	log.Info("", "gateway ready, serving stdio tool dispatch", nil)
	if err := d.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("", "dispatcher exited with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// buildRegistry registers every backend variant whose required
// environment variables are present; a missing credential simply
// leaves that entry unregistered rather than failing startup, so the
// gateway degrades to whatever subset of backends is actually
// configured.
func buildRegistry(log *logger.Logger, m *metrics.Registry) (*backend.Registry, *local.Adapter) {
	factories := map[backend.Kind]backend.Factory{
		backend.KindLocal: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return local.New(name, local.Config{
				EndpointOverride: config.GetString(config.EnvLocalEndpointOverride, ""),
				Metrics:          m,
			}), nil
		},
		backend.KindReasoning: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return reasoning.New(name, reasoning.Config{
				APIKey:         config.GetString(config.EnvReasoningAPIKey, ""),
				BaseURL:        config.GetString(config.EnvReasoningEndpoint, ""),
				PrimaryModel:   config.GetString(config.EnvReasoningModel, "claude-opus"),
				SecondaryModel: config.GetString(config.EnvReasoningSecondaryModel, "claude-sonnet"),
				Metrics:        m,
			})
		},
		backend.KindCode: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return code.New(name, code.Config{
				APIKey:  config.GetString(config.EnvCodeAPIKey, ""),
				BaseURL: config.GetString(config.EnvCodeEndpoint, ""),
				Model:   config.GetString(config.EnvCodeModel, "gemini-code"),
				Timeout: config.GetDurationSeconds(config.EnvCodeTimeoutSeconds, code.DefaultTimeout),
				Metrics: m,
			})
		},
		backend.KindFast: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return fastmodel.New(name, fastmodel.Config{
				APIKey:         config.GetString(config.EnvFastAPIKey, ""),
				Endpoint:       config.GetString(config.EnvFastEndpoint, ""),
				DeploymentName: config.GetString(config.EnvFastModel, ""),
				Timeout:        config.GetDurationSeconds(config.EnvFastTimeoutSeconds, fastmodel.DefaultTimeout),
				Metrics:        m,
			})
		},
		backend.KindPremium: func(name string, d backend.Descriptor) (backend.Adapter, error) {
			return premium.New(context.Background(), name, premium.Config{
				Region:  config.GetString(config.EnvPremiumRegion, "us-east-1"),
				ModelID: config.GetString(config.EnvPremiumModel, ""),
				Timeout: config.GetDurationSeconds(config.EnvPremiumTimeoutSeconds, premium.DefaultTimeout),
				Metrics: m,
			})
		},
	}

	registry := backend.NewRegistry(factories, log)

	var localAdapter *local.Adapter
	if err := registry.Register("local", backend.Descriptor{Kind: backend.KindLocal, Enabled: true, Priority: 0}); err != nil {
		log.Warn("", "local backend registration failed", map[string]any{"error": err.Error()})
	} else if a, ok := registry.LookupAdapter("local"); ok {
		localAdapter, _ = a.(*local.Adapter)
	}

	registerIfConfigured(registry, log, "reasoning", backend.KindReasoning, 1, config.GetString(config.EnvReasoningAPIKey, "") != "")
	registerIfConfigured(registry, log, "code", backend.KindCode, 2, config.GetString(config.EnvCodeAPIKey, "") != "")
	registerIfConfigured(registry, log, "fast", backend.KindFast, 3, config.GetString(config.EnvFastAPIKey, "") != "")
	registerIfConfigured(registry, log, "premium", backend.KindPremium, 4, config.GetString(config.EnvPremiumModel, "") != "")

	return registry, localAdapter
}

func registerIfConfigured(registry *backend.Registry, log *logger.Logger, name string, kind backend.Kind, priority int, configured bool) {
	if !configured {
		log.Info("", "skipping backend, required credential not set", map[string]any{"backend": name})
		return
	}
	if err := registry.Register(name, backend.Descriptor{Kind: kind, Enabled: true, Priority: priority}); err != nil {
		log.Warn("", "backend registration failed", map[string]any{"backend": name, "error": err.Error()})
	}
}

func runDashboard(log *logger.Logger, registry *backend.Registry, p *pool.Pool, m *metrics.Registry) {
	port := config.GetString(config.EnvDashboardPort, "8088")
	dash := wire.NewDashboard(registry, p, m)
	log.Info("", "dashboard listening", map[string]any{"port": port})
	if err := http.ListenAndServe(":"+port, dash.Handler()); err != nil {
		log.Error("", "dashboard server exited", map[string]any{"error": err.Error()})
	}
}
