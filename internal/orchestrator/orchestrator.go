package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/progress"
	"github.com/ShayCichocki/maestro/pkg/models"
)

const (
	// DefaultMaxNestingLevel is the maximum tree depth.
	DefaultMaxNestingLevel = 5
	// DefaultMaxSubtasksPerTask caps the children created per breakdown.
	DefaultMaxSubtasksPerTask = 10
	// DefaultMaxRefinementsPerRun caps refinement re-breakdowns per run so a
	// pathological tree cannot multiply breakdown calls within the depth
	// ceiling.
	DefaultMaxRefinementsPerRun = 10
)

// BreakdownFunc decides whether a task needs decomposition.
type BreakdownFunc func(ctx context.Context, task *models.Task, conversationContext string, siblingResults []string) (*oracle.BreakdownResult, error)

// ExecuteFunc executes one leaf or aggregates one parent.
type ExecuteFunc func(ctx context.Context, task *models.Task, conversationContext string, siblingResults []string) (*oracle.ExecutionResult, error)

// ReportFunc synthesizes the final narrative over the finished tree.
type ReportFunc func(ctx context.Context, root *models.Task, tree *models.TaskTree) (*oracle.Report, error)

// Report is the final outcome of one hierarchical run.
type Report struct {
	// Summary is the one-paragraph execution summary.
	Summary string `json:"summary"`
	// DetailedResults is the full narrative over collected results.
	DetailedResults string `json:"detailed_results"`
	// NextResponse is the user-facing reply.
	NextResponse string `json:"next_response"`
	// KeyFindings lists notable outcomes.
	KeyFindings []string `json:"key_findings,omitempty"`
	// TasksCompleted counts leaves that completed.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed counts leaves that failed.
	TasksFailed int `json:"tasks_failed"`
	// ExecutionTime is the wall-clock duration of the run.
	ExecutionTime time.Duration `json:"execution_time"`
	// Breakdown is the finished tree root for display.
	Breakdown *models.Task `json:"breakdown"`
}

// Config contains configuration for creating an Orchestrator.
type Config struct {
	// MaxNestingLevel caps tree depth. Zero selects the default.
	MaxNestingLevel int
	// MaxSubtasksPerTask caps children per breakdown. Zero selects the default.
	MaxSubtasksPerTask int
	// MaxRefinementsPerRun caps refinement cycles per run. Zero selects the default.
	MaxRefinementsPerRun int
	// Publisher receives progress events. Optional.
	Publisher progress.Publisher
	// OnTreeUpdate is invoked after every tree mutation so callers can push
	// snapshots to the context store. Optional.
	OnTreeUpdate func(tree *models.TaskTree)
}

// Orchestrator executes a hierarchical task: recursive breakdown, a strictly
// sequential dependency-gated execution loop, bottom-up aggregation, and a
// final report. The tree is owned exclusively by the running orchestrator;
// there are no concurrent writers.
type Orchestrator struct {
	maxNestingLevel      int
	maxSubtasksPerTask   int
	maxRefinementsPerRun int
	publisher            progress.Publisher
	onTreeUpdate         func(tree *models.TaskTree)
}

// New creates an Orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		maxNestingLevel:      cfg.MaxNestingLevel,
		maxSubtasksPerTask:   cfg.MaxSubtasksPerTask,
		maxRefinementsPerRun: cfg.MaxRefinementsPerRun,
		publisher:            cfg.Publisher,
		onTreeUpdate:         cfg.OnTreeUpdate,
	}
	if o.maxNestingLevel <= 0 {
		o.maxNestingLevel = DefaultMaxNestingLevel
	}
	if o.maxSubtasksPerTask <= 0 {
		o.maxSubtasksPerTask = DefaultMaxSubtasksPerTask
	}
	if o.maxRefinementsPerRun <= 0 {
		o.maxRefinementsPerRun = DefaultMaxRefinementsPerRun
	}
	return o
}

// ExecuteComplexTask runs the full hierarchical pipeline for one request and
// returns the final report. Leaf failures never abort the run; the loop
// always proceeds to the next scheduled task.
func (o *Orchestrator) ExecuteComplexTask(
	ctx context.Context,
	sessionID, description, conversationContext string,
	breakdownFn BreakdownFunc,
	executeFn ExecuteFunc,
	reportFn ReportFunc,
) (*Report, error) {
	start := time.Now()

	root := &models.Task{
		ID:          models.RootTaskID,
		Description: description,
		Complexity:  models.ComplexityComplex,
		Status:      models.TaskStatusPlanned,
	}
	tree := models.NewTaskTree(root, conversationContext)

	debugLog("[orchestrator] session %s: breaking down %q", sessionID, description)
	o.breakdownTask(ctx, tree, root, breakdownFn)

	tree.Order = models.ExecutionOrder(root)
	tree.TotalTasks = len(tree.Order)
	debugLog("[orchestrator] session %s: %d leaf tasks scheduled", sessionID, tree.TotalTasks)
	o.treeUpdated(tree)

	o.runLoop(ctx, sessionID, tree, breakdownFn, executeFn)

	report := o.buildReport(ctx, tree, reportFn)
	report.ExecutionTime = time.Since(start)
	debugLog("[orchestrator] session %s: done, %d completed, %d failed in %s",
		sessionID, report.TasksCompleted, report.TasksFailed, report.ExecutionTime)
	return report, nil
}

// breakdownTask recursively decomposes a task, depth-first pre-order.
// Breakdown failures leave the task a leaf; structural limits truncate
// silently rather than erroring.
func (o *Orchestrator) breakdownTask(ctx context.Context, tree *models.TaskTree, task *models.Task, breakdownFn BreakdownFunc) {
	if task.Level() >= o.maxNestingLevel {
		debugLog("[breakdown] %s at depth limit, treating as leaf", task.ID)
		return
	}
	if task.Complexity == models.ComplexitySimple {
		return
	}

	result, err := breakdownFn(ctx, task, tree.ConversationContext, o.completedSiblingResults(tree, task))
	if err != nil {
		debugLog("[breakdown] %s: oracle error, keeping as leaf: %v", task.ID, err)
		return
	}

	if !result.ShouldBreakdown {
		if result.DirectExecution {
			task.Complexity = models.ComplexitySimple
		}
		return
	}

	specs := result.Subtasks
	if len(specs) > o.maxSubtasksPerTask {
		debugLog("[breakdown] %s: truncating %d subtasks to %d", task.ID, len(specs), o.maxSubtasksPerTask)
		specs = specs[:o.maxSubtasksPerTask]
	}

	for i, spec := range specs {
		child := &models.Task{
			ID:          models.ChildID(task.ID, i),
			ParentID:    task.ID,
			Description: spec.Description,
			Complexity:  spec.EstimatedComplexity,
			Status:      models.TaskStatusPlanned,
		}
		// Dependencies may only point at earlier siblings; forward and self
		// references are dropped, which keeps the sibling graph acyclic by
		// construction.
		for _, dep := range spec.Dependencies {
			if dep >= 0 && dep < i {
				child.Dependencies = append(child.Dependencies, models.ChildID(task.ID, dep))
			} else {
				debugLog("[breakdown] %s: dropping invalid dependency index %d on child %d", task.ID, dep, i)
			}
		}
		task.Subtasks = append(task.Subtasks, child)
		tree.Register(child)
	}

	for _, child := range task.Subtasks {
		o.breakdownTask(ctx, tree, child, breakdownFn)
	}
}

// runLoop iterates the precomputed schedule sequentially. Refinement is the
// only path that mutates the schedule mid-run; settled tasks are skipped on
// the rescan.
func (o *Orchestrator) runLoop(ctx context.Context, sessionID string, tree *models.TaskTree, breakdownFn BreakdownFunc, executeFn ExecuteFunc) {
	refinements := 0

	for idx := 0; idx < len(tree.Order); idx++ {
		task := tree.Get(tree.Order[idx])
		if task == nil || task.Status != models.TaskStatusPlanned {
			continue
		}

		if !models.DependenciesSatisfied(task, tree.Index) {
			// A failed dependency blocks the dependent; a dependency that
			// itself never ran makes the dependent moot, so it is skipped.
			if dependencyMoot(tree, task) {
				task.Status = models.TaskStatusSkipped
				debugLog("[run] %s skipped: dependency never ran", task.ID)
				o.emit(sessionID, models.ProgressTaskSkipped, fmt.Sprintf("Task skipped: %s", task.Description), tree)
				o.settleAncestors(tree, task)
			} else {
				task.Status = models.TaskStatusBlocked
				debugLog("[run] %s blocked: dependencies unmet", task.ID)
				o.emit(sessionID, models.ProgressTaskBlocked, fmt.Sprintf("Task blocked: %s", task.Description), tree)
			}
			o.treeUpdated(tree)
			continue
		}

		now := time.Now()
		task.Status = models.TaskStatusInProgress
		task.StartedAt = &now
		o.emit(sessionID, models.ProgressTaskStarted, fmt.Sprintf("Executing: %s", task.Description), tree)
		o.treeUpdated(tree)

		result, err := safeExecute(ctx, executeFn, task, tree.ConversationContext, o.completedSiblingResults(tree, task))

		done := time.Now()
		task.CompletedAt = &done

		if err == nil && result != nil && result.Status == models.TaskStatusCompleted {
			task.Status = models.TaskStatusCompleted
			task.Result = result.Result
			tree.CompletedTasks++
			debugLog("[run] %s completed", task.ID)
			o.emit(sessionID, models.ProgressTaskCompleted, fmt.Sprintf("Completed: %s", task.Description), tree)
			o.settleAncestors(tree, task)
			o.treeUpdated(tree)
			continue
		}

		errMsg := executionError(result, err)
		task.Status = models.TaskStatusFailed
		task.Error = errMsg
		debugLog("[run] %s failed: %s", task.ID, errMsg)
		o.emit(sessionID, models.ProgressTaskFailed, fmt.Sprintf("Failed: %s", task.Description), tree)

		if o.shouldRefine(task, result, refinements) {
			refinements++
			debugLog("[run] %s marked for refinement (%d/%d this run)", task.ID, refinements, o.maxRefinementsPerRun)
			o.refineTask(ctx, tree, task, breakdownFn)
			if !task.IsLeaf() {
				// The refined task is a parent now; its failure is not
				// counted, its new leaves are scheduled instead.
				tree.Relinearize()
				o.treeUpdated(tree)
				// Restart the scan; settled tasks are skipped by the status
				// check at the top.
				idx = -1
				continue
			}
			// Re-breakdown produced no children; the failure stands.
			task.Status = models.TaskStatusFailed
			task.Error = errMsg
			task.CompletedAt = &done
		}

		tree.FailedTasks++
		o.settleAncestors(tree, task)
		o.treeUpdated(tree)
	}
}

// shouldRefine gates the single refinement path: the executor must ask for
// it, the task must not have been refined before, nesting budget must
// remain, and the per-run cap must not be exhausted.
func (o *Orchestrator) shouldRefine(task *models.Task, result *oracle.ExecutionResult, refinements int) bool {
	if result == nil || !result.NeedsRefinement {
		return false
	}
	if task.Refined {
		return false
	}
	if task.Level() >= o.maxNestingLevel {
		return false
	}
	return refinements < o.maxRefinementsPerRun
}

// refineTask resets a failed task and re-runs breakdown on it.
func (o *Orchestrator) refineTask(ctx context.Context, tree *models.TaskTree, task *models.Task, breakdownFn BreakdownFunc) {
	task.Refined = true
	task.Status = models.TaskStatusPlanned
	task.Complexity = models.ComplexityComplex
	task.Error = ""
	task.StartedAt = nil
	task.CompletedAt = nil
	o.breakdownTask(ctx, tree, task, breakdownFn)
}

// settleAncestors walks up from a settled task, completing each parent whose
// children have all settled. A completed child's result is propagated into
// the parent's SubtaskResults; the parent's own result is synthesized from
// its children.
func (o *Orchestrator) settleAncestors(tree *models.TaskTree, task *models.Task) {
	if task.Status == models.TaskStatusCompleted && task.ParentID != "" {
		if parent := tree.Get(task.ParentID); parent != nil {
			parent.SubtaskResults = append(parent.SubtaskResults, task.Result)
		}
	}

	for parentID := task.ParentID; parentID != ""; {
		parent := tree.Get(parentID)
		if parent == nil {
			return
		}
		for _, child := range parent.Subtasks {
			if !child.Status.Settled() {
				// A planned, running, or blocked child keeps the parent open.
				return
			}
		}
		now := time.Now()
		parent.Status = models.TaskStatusCompleted
		parent.Result = models.CollectResults(parent)
		parent.CompletedAt = &now
		debugLog("[run] parent %s completed (all children settled)", parent.ID)

		if parent.ParentID != "" {
			if grand := tree.Get(parent.ParentID); grand != nil {
				grand.SubtaskResults = append(grand.SubtaskResults, parent.Result)
			}
		}
		parentID = parent.ParentID
	}
}

// dependencyMoot reports whether any dependency settled without ever
// executing (blocked or skipped). Such a dependency will never produce a
// result, so the dependent cannot run in this tree at all.
func dependencyMoot(tree *models.TaskTree, task *models.Task) bool {
	for _, depID := range task.Dependencies {
		dep := tree.Get(depID)
		if dep == nil {
			continue
		}
		if dep.Status == models.TaskStatusBlocked || dep.Status == models.TaskStatusSkipped {
			return true
		}
	}
	return false
}

// completedSiblingResults gathers the result strings of already-completed
// siblings (not descendants) for situational awareness.
func (o *Orchestrator) completedSiblingResults(tree *models.TaskTree, task *models.Task) []string {
	if task.ParentID == "" {
		return nil
	}
	parent := tree.Get(task.ParentID)
	if parent == nil {
		return nil
	}
	var results []string
	for _, sibling := range parent.Subtasks {
		if sibling.ID == task.ID {
			continue
		}
		if sibling.Status == models.TaskStatusCompleted && sibling.Result != "" {
			results = append(results, sibling.Result)
		}
	}
	return results
}

// buildReport asks the oracle for a synthesized narrative, falling back to
// the mechanical result collection when synthesis fails.
func (o *Orchestrator) buildReport(ctx context.Context, tree *models.TaskTree, reportFn ReportFunc) *Report {
	report := &Report{
		TasksCompleted: tree.CompletedTasks,
		TasksFailed:    tree.FailedTasks,
		Breakdown:      tree.Root,
	}

	if reportFn != nil {
		if synthesized, err := reportFn(ctx, tree.Root, tree); err == nil && synthesized != nil {
			report.Summary = synthesized.ExecutionSummary
			report.DetailedResults = synthesized.DetailedResults
			report.NextResponse = synthesized.NextResponse
			report.KeyFindings = synthesized.KeyFindings
			return report
		} else if err != nil {
			debugLog("[report] synthesis failed, using collected results: %v", err)
		}
	}

	collected := models.CollectResults(tree.Root)
	report.Summary = fmt.Sprintf("Task completed with %d of %d subtasks successful.", tree.CompletedTasks, tree.TotalTasks)
	report.DetailedResults = collected
	report.NextResponse = collected
	return report
}

// safeExecute invokes the executor with panic recovery so an unexpected
// fault is recorded on the task instead of aborting the run.
func safeExecute(ctx context.Context, executeFn ExecuteFunc, task *models.Task, conversationContext string, siblingResults []string) (result *oracle.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("execution panic: %v", r)
		}
	}()
	return executeFn(ctx, task, conversationContext, siblingResults)
}

func executionError(result *oracle.ExecutionResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != "" {
		return result.Error
	}
	return "task execution failed"
}

func (o *Orchestrator) emit(sessionID string, typ models.ProgressType, message string, tree *models.TaskTree) {
	if o.publisher == nil {
		return
	}
	o.publisher.Emit(models.ProgressUpdate{
		SessionID: sessionID,
		Type:      typ,
		Message:   message,
		Progress:  tree.ProgressPercent(),
	})
}

func (o *Orchestrator) treeUpdated(tree *models.TaskTree) {
	if o.onTreeUpdate != nil {
		o.onTreeUpdate(tree)
	}
}
