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

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"inference-gateway/role"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/verdict"
)

// decompose implements stage 2: submit the task to the "decomposer"
// role, tolerant-parse its JSON, and persist the raw decomposition.
// Failure here fails the entire run fast — no meaningful work is
// possible without a decomposition.
func (o *Orchestrator) decompose(ctx context.Context, task string, maxParallel int, workDir string) ([]Group, error) {
	result, err := o.executor.Execute(ctx, role.Task{
		RoleName:  "decomposer",
		Text:      task,
		SlotCount: maxParallel,
	})
	if err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.InvalidInput, "decomposition request failed", err)
	}

	candidate, ok := verdict.ExtractJSONObject(result.Response.Content)
	if !ok {
		return nil, ghcerrors.New(ghcerrors.ProtocolMismatch,
			fmt.Sprintf("decomposer output had no recoverable JSON: %q", verdict.Head(result.Response.Content, 200)))
	}

	var d decomposition
	if err := json.Unmarshal([]byte(candidate), &d); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.ProtocolMismatch, "decomposer JSON did not match expected shape", err)
	}

	if err := writeArtifact(workDir, "decomposed.json", d); err != nil {
		o.log.Warn("", "failed to persist decomposition artifact", map[string]any{"error": err.Error()})
	}

	return d.ParallelGroups, nil
}

// regroupByPhase implements stage 3: flatten every group's tasks and
// rebatch strictly RED, then GREEN, then REFACTOR, each phase split
// into batches of at most maxParallel. This guarantees every RED task
// precedes every GREEN task in execution order regardless of how the
// decomposer originally nested them.
func regroupByPhase(groups []Group, maxParallel int) [][]Task {
	byPhase := make(map[Phase][]Task, 3)
	for _, g := range groups {
		for _, t := range g.Tasks {
			byPhase[t.Phase] = append(byPhase[t.Phase], t)
		}
	}

	var batches [][]Task
	for _, phase := range phaseOrder {
		tasks := byPhase[phase]
		for i := 0; i < len(tasks); i += maxParallel {
			end := i + maxParallel
			if end > len(tasks) {
				end = len(tasks)
			}
			batches = append(batches, tasks[i:end])
		}
	}
	return batches
}

// runQualityGate implements stage 5's per-iteration review call: the
// aggregated, per-task-truncated results are submitted to the
// "quality-reviewer" role. A request or parse failure is treated as an
// "iterate" verdict with score 0 rather than aborting the run — it is
// still subject to the max-iterations cap.
func (o *Orchestrator) runQualityGate(ctx context.Context, results map[string]*TaskResult, iteration int, workDir string) qualityVerdict {
	prompt := buildQualityPrompt(results)

	result, err := o.executor.Execute(ctx, role.Task{RoleName: "quality-reviewer", Text: prompt})
	if err != nil {
		o.log.Warn("", "quality gate request failed, treating as iterate", map[string]any{"error": err.Error()})
		return qualityVerdict{Verdict: "iterate", Score: 0}
	}

	candidate, ok := verdict.ExtractJSONObject(result.Response.Content)
	if !ok {
		o.log.Warn("", "quality gate output had no recoverable JSON, treating as iterate", nil)
		return qualityVerdict{Verdict: "iterate", Score: 0}
	}

	var qv qualityVerdict
	if err := json.Unmarshal([]byte(candidate), &qv); err != nil {
		o.log.Warn("", "quality gate JSON did not match expected shape, treating as iterate", map[string]any{"error": err.Error()})
		return qualityVerdict{Verdict: "iterate", Score: 0}
	}

	if err := writeArtifact(workDir, fmt.Sprintf("quality-%d.json", iteration), qv); err != nil {
		o.log.Warn("", "failed to persist quality gate artifact", map[string]any{"error": err.Error()})
	}
	return qv
}

func buildQualityPrompt(results map[string]*TaskResult) string {
	ordered := resultsSlice(results)
	out := "Review these task results:\n\n"
	for _, r := range ordered {
		out += fmt.Sprintf("- %s (%s, success=%t): %s\n", r.ID, r.Phase, r.Success, truncate(summaryText(r), truncateTaskResult))
	}
	return out
}

// writeJSONFile marshals v as indented JSON to path.
func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
