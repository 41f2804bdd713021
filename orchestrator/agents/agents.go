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

// Package agents implements the Parallel Agents Orchestrator: the
// decompose / phase-regroup / execute-in-batches / quality-gate /
// synthesize workflow used for test-driven code generation. It is the
// single heaviest consumer of the role package's Subagent Executor,
// never calling a backend directly.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"inference-gateway/guard/pool"
	"inference-gateway/role"
	"inference-gateway/shared/ghcerrors"
	"inference-gateway/shared/logger"
	"inference-gateway/shared/metrics"
)

// Phase is one of the three fixed TDD phases a task belongs to.
type Phase string

const (
	PhaseRed      Phase = "RED"
	PhaseGreen    Phase = "GREEN"
	PhaseRefactor Phase = "REFACTOR"
)

// phaseOrder fixes the strict execution order regardless of how the
// decomposer nested its groups.
var phaseOrder = []Phase{PhaseRed, PhaseGreen, PhaseRefactor}

// phaseRole maps a phase to the role name used for that phase's
// tasks, unless a task specifies its own agent.
var phaseRole = map[Phase]string{
	PhaseRed:      "test-writer",
	PhaseGreen:    "implementer",
	PhaseRefactor: "refactor",
}

// DefaultMaxParallel is the ceiling every discovered or caller-supplied
// slot count is clamped to.
const DefaultMaxParallel = 10

// DefaultMaxIterations bounds the quality gate's retry loop.
const DefaultMaxIterations = 3

// truncateTaskResult and truncateSummary bound prompt size and the
// final synthesis artifact respectively.
const (
	truncateTaskResult = 500
	truncateSummary    = 200
)

// SlotProber discovers the local endpoint's advertised slot count, for
// stage 1 capacity discovery when the caller did not pass one.
type SlotProber interface {
	SlotCount(ctx context.Context) (int, bool)
}

// Task is one decomposed unit of work.
type Task struct {
	ID    string `json:"id"`
	Phase Phase  `json:"phase"`
	Task  string `json:"task"`
	Agent string `json:"agent,omitempty"`
}

// Group is one decomposer-proposed grouping of tasks, before stage 3
// flattens and re-batches them strictly by phase.
type Group struct {
	Group int    `json:"group"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// decomposition is the JSON shape expected from the "decomposer" role.
type decomposition struct {
	ParallelGroups []Group `json:"parallel_groups"`
}

// TaskResult is one task's outcome, recorded regardless of success.
type TaskResult struct {
	ID       string `json:"id"`
	Phase    Phase  `json:"phase"`
	Agent    string `json:"agent"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	RunID    string `json:"run_id"`
}

// qualityVerdict is the tolerant-parsed shape of the quality reviewer's
// response.
type qualityVerdict struct {
	Verdict     string              `json:"verdict"`
	Score       float64             `json:"score"`
	Issues      []string            `json:"issues,omitempty"`
	RetryTasks  []string            `json:"retry_tasks,omitempty"`
	TaskIssues  map[string][]string `json:"task_issues,omitempty"`
}

// Synthesis is the final stage-6 artifact.
type Synthesis struct {
	TasksTotal     int            `json:"tasks_total"`
	TasksCompleted int            `json:"tasks_completed"`
	TasksFailed    int            `json:"tasks_failed"`
	Iterations     int            `json:"iterations"`
	QualityScore   float64        `json:"quality_score"`
	QualityVerdict string         `json:"quality_verdict"`
	Summaries      []TaskSummary  `json:"summaries"`
	Reorganized    bool           `json:"_reorganized"`
}

// TaskSummary is one task's ~200-char-truncated synthesis entry.
type TaskSummary struct {
	ID      string `json:"id"`
	Phase   Phase  `json:"phase"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

// Run configures one orchestrator invocation.
type Run struct {
	Task            string
	MaxParallel     int  // 0 means "discover via SlotProber"
	IterateQuality  bool // not read by Execute; DisableQuality alone skips the quality gate
	DisableQuality  bool
	MaxIterations   int // 0 means DefaultMaxIterations
	WorkDir         string // "" means /tmp/parallel-agents-<nanos>
}

// RunResult is the orchestrator's final, returned outcome.
type RunResult struct {
	WorkDir    string
	Results    map[string]*TaskResult
	Synthesis  Synthesis
}

// Orchestrator runs the full six-stage workflow over a role.Executor.
type Orchestrator struct {
	executor *role.Executor
	prober   SlotProber
	log      *logger.Logger
	nowNanos func() int64
	metrics  *metrics.Registry
}

// New builds an Orchestrator. prober may be nil, in which case stage 1
// always falls back to a caller-supplied max parallel or 1. m may be
// nil, in which case no quality-gate-iteration metrics are recorded.
func New(executor *role.Executor, prober SlotProber, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		prober:   prober,
		log:      logger.New("orchestrator.agents"),
		nowNanos: func() int64 { return time.Now().UnixNano() },
		metrics:  m,
	}
}

// Execute runs stages 1 through 6 and returns the final result. The
// only fast-fail path is decomposition failure (stage 2); every other
// stage degrades gracefully per spec (per-task failures recorded, not
// fatal; quality-review failure becomes an "iterate" verdict).
func (o *Orchestrator) Execute(ctx context.Context, run Run) (*RunResult, error) {
	maxParallel := o.discoverCapacity(ctx, run.MaxParallel)
	p := pool.New(maxParallel, o.metrics)

	workDir := run.WorkDir
	if workDir == "" {
		workDir = fmt.Sprintf("/tmp/parallel-agents-%d", o.nowNanos())
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, ghcerrors.Wrap(ghcerrors.Misconfigured, "cannot create orchestrator work directory", err)
	}

	groups, err := o.decompose(ctx, run.Task, maxParallel, workDir)
	if err != nil {
		return nil, err
	}

	batches := regroupByPhase(groups, maxParallel)

	results := make(map[string]*TaskResult)
	for _, batch := range batches {
		o.executeBatch(ctx, p, batch, results)
		if err := writeArtifact(workDir, "results.json", resultsSlice(results)); err != nil {
			o.log.Warn("", "failed to persist results artifact", map[string]any{"error": err.Error()})
		}
	}

	qv := qualityVerdict{Verdict: "pass", Score: 100}
	iterations := 1
	maxIter := run.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}

	if !run.DisableQuality {
		for iterations = 1; iterations <= maxIter; iterations++ {
			if o.metrics != nil {
				o.metrics.OrchestratorIters.Inc()
			}
			qv = o.runQualityGate(ctx, results, iterations, workDir)
			if qv.Verdict == "pass" || iterations == maxIter {
				break
			}
			o.retryTasks(ctx, p, batches, qv, results)
			if err := writeArtifact(workDir, "results.json", resultsSlice(results)); err != nil {
				o.log.Warn("", "failed to persist results artifact after retry", map[string]any{"error": err.Error()})
			}
		}
	}

	synthesis := o.synthesize(results, qv, iterations, len(batches) > 0)
	if err := writeArtifact(workDir, "synthesis.json", synthesis); err != nil {
		o.log.Warn("", "failed to persist synthesis artifact", map[string]any{"error": err.Error()})
	}

	return &RunResult{WorkDir: workDir, Results: results, Synthesis: synthesis}, nil
}

// discoverCapacity implements stage 1: caller-supplied value wins;
// else probe the local endpoint; else 1. Always clamped to
// DefaultMaxParallel.
func (o *Orchestrator) discoverCapacity(ctx context.Context, requested int) int {
	n := requested
	if n <= 0 && o.prober != nil {
		if slots, ok := o.prober.SlotCount(ctx); ok {
			n = slots
		}
	}
	if n <= 0 {
		n = 1
	}
	if n > DefaultMaxParallel {
		n = DefaultMaxParallel
	}
	return n
}

// executeBatch runs every task in batch concurrently through the pool,
// recording a TaskResult for each regardless of outcome.
func (o *Orchestrator) executeBatch(ctx context.Context, p *pool.Pool, batch []Task, results map[string]*TaskResult) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, t := range batch {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID := fmt.Sprintf("%s-%d", t.ID, o.nowNanos())
			roleName := t.Agent
			if roleName == "" {
				roleName = phaseRole[t.Phase]
			}

			val, err := p.Submit(ctx, pool.Normal, func(ctx context.Context) (any, error) {
				return o.executor.Execute(ctx, role.Task{RoleName: roleName, Text: t.Task})
			})

			tr := &TaskResult{ID: t.ID, Phase: t.Phase, Agent: roleName, RunID: runID}
			if err != nil {
				tr.Success = false
				tr.Error = err.Error()
			} else {
				res := val.(*role.Result)
				tr.Success = true
				tr.Output = res.Response.Content
			}

			mu.Lock()
			results[t.ID] = tr
			mu.Unlock()
		}()
	}
	wg.Wait()
}

// retryTasks re-executes exactly the ids listed in qv.RetryTasks, each
// with a retry prompt injecting the reviewer's per-task feedback (if
// any) plus a preview of the task's prior output.
func (o *Orchestrator) retryTasks(ctx context.Context, p *pool.Pool, batches [][]Task, qv qualityVerdict, results map[string]*TaskResult) {
	byID := make(map[string]Task)
	for _, batch := range batches {
		for _, t := range batch {
			byID[t.ID] = t
		}
	}

	var retryBatch []Task
	for _, id := range qv.RetryTasks {
		orig, ok := byID[id]
		if !ok {
			continue
		}
		feedback := strings.Join(qv.TaskIssues[id], "; ")
		prior := results[id]
		priorPreview := ""
		if prior != nil {
			priorPreview = truncate(prior.Output, truncateTaskResult)
		}
		retryBatch = append(retryBatch, Task{
			ID:    orig.ID,
			Phase: orig.Phase,
			Agent: orig.Agent,
			Task:  buildRetryPrompt(orig.Task, feedback, priorPreview),
		})
	}
	if len(retryBatch) == 0 {
		return
	}
	o.executeBatch(ctx, p, retryBatch, results)
}

func buildRetryPrompt(original, feedback, priorPreview string) string {
	var b strings.Builder
	b.WriteString(original)
	if feedback != "" {
		b.WriteString("\n\nReviewer feedback to address: ")
		b.WriteString(feedback)
	}
	if priorPreview != "" {
		b.WriteString("\n\nPrior output (truncated):\n")
		b.WriteString(priorPreview)
	}
	return b.String()
}

// synthesize builds the stage 6 artifact.
func (o *Orchestrator) synthesize(results map[string]*TaskResult, qv qualityVerdict, iterations int, reorganized bool) Synthesis {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := make([]TaskSummary, 0, len(ids))
	completed, failed := 0, 0
	for _, id := range ids {
		r := results[id]
		if r.Success {
			completed++
		} else {
			failed++
		}
		summaries = append(summaries, TaskSummary{
			ID:      r.ID,
			Phase:   r.Phase,
			Success: r.Success,
			Summary: truncate(summaryText(r), truncateSummary),
		})
	}

	return Synthesis{
		TasksTotal:     len(results),
		TasksCompleted: completed,
		TasksFailed:    failed,
		Iterations:     iterations,
		QualityScore:   qv.Score,
		QualityVerdict: qv.Verdict,
		Summaries:      summaries,
		Reorganized:    reorganized,
	}
}

func summaryText(r *TaskResult) string {
	if r.Success {
		return r.Output
	}
	return r.Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func resultsSlice(results map[string]*TaskResult) []*TaskResult {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*TaskResult, len(ids))
	for i, id := range ids {
		out[i] = results[id]
	}
	return out
}

// writeArtifact marshals v as indented JSON to name under dir.
func writeArtifact(dir, name string, v any) error {
	return writeJSONFile(filepath.Join(dir, name), v)
}
