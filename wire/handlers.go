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

package wire

import (
	"context"

	"inference-gateway/backend"
	"inference-gateway/fileops"
	"inference-gateway/guard/fuzzyguard"
	"inference-gateway/orchestrator/agents"
	"inference-gateway/role"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/metrics"
	"inference-gateway/verdict"
)

// RegisterCoreTools binds the "ask"/"review"/"explore"/"analyze-file"
// roles (all routed through the Subagent Executor, each pinned to its
// matching role name), "health" (registry status), "subagent" (an
// explicit role name passed by the caller), and "parallel-agents" (the
// orchestrator), to d.
func RegisterCoreTools(d *Dispatcher, executor *role.Executor, orch *agents.Orchestrator, registry *backend.Registry) {
	d.Register("ask", roleTool(executor, "general-assistant"))
	d.Register("review", roleTool(executor, "code-reviewer"))
	d.Register("explore", roleTool(executor, "explorer"))
	d.Register("analyze-file", roleTool(executor, "analyzer"))
	d.Register("subagent", subagentTool(executor))
	d.Register("health", healthTool(registry))
	d.Register("parallel-agents", parallelAgentsTool(orch))
	d.Register("parse-verdict", parseVerdictTool())
}

func parseVerdictTool() Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		text := stringArg(args, "text")
		v := verdictFromRaw(text)
		if v == nil {
			return map[string]any{"verdict": nil}, nil
		}
		return map[string]any{"verdict": v}, nil
	}
}

// roleTool builds a Handler that always invokes roleName, taking the
// call's "text" argument (and optional "file_patterns") as the task.
func roleTool(executor *role.Executor, roleName string) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		text, _ := args["text"].(string)
		if text == "" {
			return nil, ghcerrors.NewInvalidInput("missing required argument \"text\"")
		}
		result, err := executor.Execute(ctx, role.Task{
			RoleName:     roleName,
			Text:         text,
			FilePatterns: stringSlice(args["file_patterns"]),
		})
		if err != nil {
			return nil, err
		}
		return resultPayload(result), nil
	}
}

// subagentTool lets the caller name any registered role explicitly.
func subagentTool(executor *role.Executor) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		roleName, _ := args["role"].(string)
		text, _ := args["text"].(string)
		if roleName == "" || text == "" {
			return nil, ghcerrors.NewInvalidInput("subagent requires \"role\" and \"text\" arguments")
		}
		result, err := executor.Execute(ctx, role.Task{
			RoleName:     roleName,
			Text:         text,
			FilePatterns: stringSlice(args["file_patterns"]),
			OutputFormat: stringArg(args, "output_format"),
		})
		if err != nil {
			return nil, err
		}
		return resultPayload(result), nil
	}
}

func resultPayload(result *role.Result) map[string]any {
	payload := map[string]any{
		"role_used": result.RoleUsed,
		"winner":    result.Winner,
		"attempted": result.Attempted,
		"response":  result.Response.Content,
	}
	if result.Verdict != nil {
		payload["verdict"] = result.Verdict
	}
	return payload
}

// healthTool reports every registered backend's latest observed
// health record.
func healthTool(registry *backend.Registry) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		health := registry.AllHealth()
		out := make(map[string]any, len(health))
		for name, h := range health {
			out[name] = map[string]any{
				"healthy":      h.Healthy,
				"active_model": h.ActiveModel,
				"latency_ms":   h.Latency.Milliseconds(),
				"error":        h.Error,
			}
		}
		return map[string]any{"backends": out}, nil
	}
}

// parallelAgentsTool runs the full orchestrator workflow for one task.
func parallelAgentsTool(orch *agents.Orchestrator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		task, _ := args["task"].(string)
		if task == "" {
			return nil, ghcerrors.NewInvalidInput("missing required argument \"task\"")
		}
		run := agents.Run{Task: task}
		if n, ok := intArg(args, "max_parallel"); ok {
			run.MaxParallel = n
		}
		if wd, ok := args["work_dir"].(string); ok {
			run.WorkDir = wd
		}
		if disable, ok := args["disable_quality"].(bool); ok {
			run.DisableQuality = disable
		}

		result, err := orch.Execute(ctx, run)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"work_dir":  result.WorkDir,
			"synthesis": result.Synthesis,
		}, nil
	}
}

// RegisterFileOpsTools binds the §4.11 file-op collaborator surface
// directly to the wire protocol: atomic-multi-write, fuzzy-edit, and
// the backup-ops triad. m may be nil, in which case fuzzy-edit guard
// rejections are not recorded anywhere.
func RegisterFileOpsTools(d *Dispatcher, collab fileops.Collaborator, m *metrics.Registry) {
	d.Register("atomic-multi-write", atomicMultiWriteTool(collab))
	d.Register("fuzzy-edit", fuzzyEditTool(collab, fuzzyGuardSink(m)))
	d.Register("backup-create", backupCreateTool(collab))
	d.Register("backup-restore", backupRestoreTool(collab))
	d.Register("backup-list", backupListTool(collab))
	d.Register("backup-cleanup", backupCleanupTool(collab))
}

// fuzzyGuardSink adapts m into a fuzzyguard.MetricSink, or returns nil
// (a valid no-op sink) if m is nil.
func fuzzyGuardSink(m *metrics.Registry) fuzzyguard.MetricSink {
	if m == nil {
		return nil
	}
	return func(e fuzzyguard.MetricEvent) {
		m.FuzzyGuardReject.WithLabelValues(string(e)).Inc()
	}
}

func atomicMultiWriteTool(collab fileops.Collaborator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		rawOps, _ := args["ops"].([]any)
		ops := make([]fileops.WriteOp, 0, len(rawOps))
		for _, raw := range rawOps {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ops = append(ops, fileops.WriteOp{
				Path:    stringArg(m, "path"),
				Kind:    fileops.OpKind(stringArg(m, "kind")),
				Content: stringArg(m, "content"),
			})
		}
		createBackup, _ := args["create_backup"].(bool)

		results, err := collab.AtomicMultiWrite(ctx, ops, createBackup)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	}
}

func fuzzyEditTool(collab fileops.Collaborator, sink fuzzyguard.MetricSink) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		path := stringArg(args, "path")
		if path == "" {
			return nil, ghcerrors.NewInvalidInput("missing required argument \"path\"")
		}

		rawEdits, _ := args["edits"].([]any)
		edits := make([]fuzzyguard.Edit, 0, len(rawEdits))
		for _, raw := range rawEdits {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			edits = append(edits, fuzzyguard.Edit{Find: stringArg(m, "find"), Replace: stringArg(m, "replace")})
		}

		validation := fuzzyguard.Validate(edits, fuzzyguard.DefaultLimits, sink)
		if !validation.Valid {
			return nil, ghcerrors.NewInvalidInput("fuzzy edit rejected: " + joinErrors(validation.Errors))
		}

		mode := fileops.FuzzyEditMode(stringArg(args, "mode"))
		if mode == "" {
			mode = fileops.ModeStrict
		}
		threshold := fuzzyguard.ClampThreshold(floatArg(args, "threshold"))
		maxSuggestions := fuzzyguard.ClampMaxSuggestions(intOrZero(args, "max_suggestions"))
		suggestAlternatives, _ := args["suggest_alternatives"].(bool)

		report, err := collab.FuzzyEdit(ctx, path, edits, mode, threshold, maxSuggestions, suggestAlternatives)
		if err != nil {
			return nil, err
		}
		return map[string]any{"report": report}, nil
	}
}

func backupCreateTool(collab fileops.Collaborator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		record, err := collab.Create(ctx, stringArg(args, "path"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"backup": record}, nil
	}
}

func backupRestoreTool(collab fileops.Collaborator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if err := collab.Restore(ctx, stringArg(args, "id")); err != nil {
			return nil, err
		}
		return map[string]any{"restored": true}, nil
	}
}

func backupListTool(collab fileops.Collaborator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		records, err := collab.List(ctx, stringArg(args, "path"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"backups": records}, nil
	}
}

func backupCleanupTool(collab fileops.Collaborator) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		n, err := collab.Cleanup(ctx, durationArg(args, "older_than_seconds"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"removed": n}, nil
	}
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

// verdictFromRaw exposes the shared tolerant verdict parser as a wire
// tool for callers that just want to parse free-form text without
// routing a call through a role.
func verdictFromRaw(text string) *verdict.Verdict {
	return verdict.Parse(text)
}
