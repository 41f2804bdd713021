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

package role

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"inference-gateway/backend"
	"inference-gateway/capability"
	"inference-gateway/fileops"
	"inference-gateway/guard/pool"
	"inference-gateway/router"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
	"inference-gateway/verdict"
)

// Task is one Subagent Executor call.
type Task struct {
	RoleName     string
	Text         string
	FilePatterns []string
	ExtraContext map[string]any
	OutputFormat string
	SlotCount    int
	Priority     pool.Priority
}

// Result is the outcome of one Subagent Executor call.
type Result struct {
	RoleUsed  string
	Response  *backend.Response
	Attempted []string
	Winner    string
	Verdict   *verdict.Verdict
	Duration  time.Duration
}

// MetaSelector picks a role name from candidates for the "auto"
// pseudo-role, by asking the orchestrator backend directly. Kept as
// an interface so tests never need a live backend for this step.
type MetaSelector interface {
	SelectRole(ctx context.Context, taskText string, candidates []string) (string, error)
}

// Executor is the Subagent Executor: role validation, auto-resolution,
// prompt assembly, capability-restricted backend selection, pool
// submission through the Router, and optional verdict parsing.
type Executor struct {
	roles    *Registry
	router   *router.Router
	resolver fileops.FileResolver
	meta     MetaSelector
	log      *logger.Logger

	// localModelID and localPort, when set, let step 6 exclude "local"
	// from the available set when its active model is an orchestrator
	// model — resolved at call time via capability.IsOrchestrator.
	localModelID func() (modelID, port string)

	onMetric func(event string, roleName string)
}

// New builds an Executor. resolver and meta may be nil if the caller
// never needs file-pattern resolution or the "auto" pseudo-role.
func New(roles *Registry, r *router.Router, resolver fileops.FileResolver, meta MetaSelector) *Executor {
	return &Executor{
		roles:    roles,
		router:   r,
		resolver: resolver,
		meta:     meta,
		log:      logger.New("role.executor"),
		onMetric: func(string, string) {},
	}
}

// WithLocalModelProbe registers a callback the executor uses at step 6
// to learn the local adapter's currently active model id and port, so
// an orchestrator-serving local endpoint can be excluded from worker
// selection.
func (e *Executor) WithLocalModelProbe(probe func() (modelID, port string)) *Executor {
	e.localModelID = probe
	return e
}

// WithMetricSink registers a callback invoked for "attempt",
// "success", and "error" events.
func (e *Executor) WithMetricSink(fn func(event string, roleName string)) *Executor {
	e.onMetric = fn
	return e
}

// suggestionError carries a Levenshtein-nearest suggestion for an
// unknown role name.
func suggestionError(name, suggestion string) error {
	msg := fmt.Sprintf("unknown role %q", name)
	if suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	return ghcerrors.NewInvalidInput(msg)
}

// Execute runs the full nine-step process described by the role
// package's governing specification section.
func (e *Executor) Execute(ctx context.Context, task Task) (*Result, error) {
	start := time.Now()
	e.onMetric("attempt", task.RoleName)

	// Step 1+2: validate, resolving "auto" if requested.
	roleName := task.RoleName
	r, ok := e.roles.Get(roleName)
	if !ok {
		suggestion, _ := e.roles.SuggestNearest(roleName)
		e.onMetric("error", roleName)
		return nil, suggestionError(roleName, suggestion)
	}
	if r.Meta {
		resolved, err := e.resolveAuto(ctx, task.Text)
		if err != nil {
			e.onMetric("error", roleName)
			return nil, err
		}
		roleName = resolved
		r, ok = e.roles.Get(roleName)
		if !ok {
			r, _ = e.roles.Get(DefaultRoleName)
			roleName = DefaultRoleName
		}
	}

	// Step 3: resolve prompt placeholders.
	promptTemplate := strings.ReplaceAll(r.PromptTemplate, slotCountPlaceholder, fmt.Sprintf("%d", task.SlotCount))

	// Step 4: resolve file patterns via the editor collaborator.
	var files []string
	if len(task.FilePatterns) > 0 && e.resolver != nil {
		resolved, err := e.resolver.ResolvePatterns(ctx, task.FilePatterns)
		if err != nil {
			e.onMetric("error", roleName)
			return nil, ghcerrors.Wrap(ghcerrors.InvalidInput, "failed to resolve file patterns", err)
		}
		files = resolved
	}

	// Step 5: compose the final prompt.
	prompt := e.composePrompt(r, promptTemplate, task, files)

	// Step 6: select backend via capability scoring restricted to
	// non-orchestrator, currently-available backends.
	contextSize := capability.EstimateTaskContextSize(task.Text, len(task.FilePatterns))

	opts := backend.Options{
		MaxOutputTokens: r.TokenBudget,
		EnableThinking:  r.EnableThinkingMode,
	}

	var exclude []string
	if e.localModelID != nil {
		if modelID, port := e.localModelID(); capability.IsOrchestrator(modelID, port, nil) {
			exclude = append(exclude, "local")
		}
	}

	result, err := e.router.Execute(ctx, router.Request{
		Prompt:               prompt,
		RequiredCapabilities: r.RequiredCapabilities,
		FallbackOrder:        r.FallbackOrder,
		ContextSize:          contextSize,
		RoutingRules:         r.RoutingRules,
		Options:              opts,
		Priority:             task.Priority,
		Exclude:              exclude,
	})
	if err != nil {
		e.onMetric("error", roleName)
		return nil, err
	}

	out := &Result{RoleUsed: roleName, Response: result.Response, Attempted: result.Attempted, Winner: result.Winner, Duration: time.Since(start)}

	// Step 8: parse verdict if required.
	if r.RequiresVerdict {
		out.Verdict = verdict.Parse(result.Response.Content)
	}

	e.onMetric("success", roleName)
	return out, nil
}

// resolveAuto sends a small prompt to the orchestrator backend asking
// it to pick the best role by name, normalizes the response, and
// falls back to DefaultRoleName if nothing recognizable comes back.
func (e *Executor) resolveAuto(ctx context.Context, taskText string) (string, error) {
	candidates := make([]string, 0, len(e.roles.Names()))
	for _, name := range e.roles.Names() {
		if name == "auto" {
			continue
		}
		candidates = append(candidates, name)
	}

	if e.meta == nil {
		return DefaultRoleName, nil
	}
	raw, err := e.meta.SelectRole(ctx, taskText, candidates)
	if err != nil {
		return DefaultRoleName, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	for _, name := range candidates {
		if strings.Contains(normalized, name) {
			return name, nil
		}
	}
	return DefaultRoleName, nil
}

// composePrompt assembles the final prompt from the role's prompt
// template, task text, resolved file list, extra context as pretty
// JSON, and the output-format hint. Role has no separate description
// field, so no role description is included.
func (e *Executor) composePrompt(r Role, promptTemplate string, task Task, files []string) string {
	var b strings.Builder
	b.WriteString(promptTemplate)
	b.WriteString("\n\n")
	b.WriteString("Task:\n")
	b.WriteString(task.Text)

	if len(files) > 0 {
		b.WriteString("\n\nRelevant files:\n")
		for _, f := range files {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}

	if len(task.ExtraContext) > 0 {
		if pretty, err := json.MarshalIndent(task.ExtraContext, "", "  "); err == nil {
			b.WriteString("\n\nAdditional context:\n")
			b.Write(pretty)
		}
	}

	if task.OutputFormat != "" {
		b.WriteString("\n\nRespond in this format: ")
		b.WriteString(task.OutputFormat)
	}

	return b.String()
}
