// Package supervisor selects an execution strategy for each incoming request
// and drives it to a terminal progress event. It is the single entry point
// above the oracle and the orchestrator: callers hand it a description and a
// session id and observe the rest through the progress bus and the context
// store.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/orchestrator"
	"github.com/ShayCichocki/maestro/internal/progress"
	"github.com/ShayCichocki/maestro/internal/taskctx"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// Strategy selects how a request is executed.
type Strategy string

const (
	// StrategyDirect executes the request as a single task.
	StrategyDirect Strategy = "direct"
	// StrategyFlat executes the request as one call that reports its workflow
	// steps; the step list becomes the displayed breakdown.
	StrategyFlat Strategy = "flat"
	// StrategyHierarchical runs the full recursive breakdown pipeline.
	StrategyHierarchical Strategy = "hierarchical"
)

// strategyRank orders strategies by cost so a configured ceiling can cap the
// selection.
var strategyRank = map[Strategy]int{
	StrategyDirect:       0,
	StrategyFlat:         1,
	StrategyHierarchical: 2,
}

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	_, ok := strategyRank[s]
	return ok
}

// Request is one unit of work handed to the supervisor.
type Request struct {
	// SessionID identifies the session for progress and context lookups.
	SessionID string
	// Description states what the user asked for.
	Description string
	// ConversationContext carries the surrounding conversation, if any.
	ConversationContext string
	// PlanOnly asks for a plan and a confirmation prompt instead of execution.
	PlanOnly bool
}

// Result is the terminal outcome of one supervised request.
type Result struct {
	// SessionID echoes the request session.
	SessionID string `json:"session_id"`
	// Strategy is the strategy that handled the request. Delegated requests
	// report direct; only plan-only requests leave it empty.
	Strategy Strategy `json:"strategy,omitempty"`
	// Complexity is the assessed complexity that drove the selection.
	Complexity oracle.AssessedComplexity `json:"complexity,omitempty"`
	// Delegated is true when the request was judged too simple and handed
	// back to the caller without execution.
	Delegated bool `json:"delegated,omitempty"`
	// Guidance carries execution hints for a delegated request.
	Guidance string `json:"guidance,omitempty"`
	// Response is the user-facing reply.
	Response string `json:"response"`
	// Plan holds the plan when PlanOnly was set.
	Plan *oracle.Plan `json:"plan,omitempty"`
	// Report holds the full report for hierarchical runs.
	Report *orchestrator.Report `json:"report,omitempty"`
	// WorkflowSteps lists executed steps for flat runs.
	WorkflowSteps []string `json:"workflow_steps,omitempty"`
	// Breakdown is the display tree: real for hierarchical runs, synthesized
	// from workflow steps for flat runs, nil otherwise.
	Breakdown *models.Task `json:"breakdown,omitempty"`
	// ExecutionTime is the wall-clock duration of the request.
	ExecutionTime time.Duration `json:"execution_time"`
	// Err is the terminal error message, empty on success.
	Err string `json:"error,omitempty"`
}

// Config contains the supervisor's collaborators and limits.
type Config struct {
	// Oracle is the decision boundary. Required.
	Oracle oracle.Oracle
	// Publisher receives progress events. Optional.
	Publisher progress.Publisher
	// Store receives session snapshots. Optional.
	Store *taskctx.Store
	// Orchestrator carries the limits for hierarchical runs. Publisher and
	// OnTreeUpdate are filled in per session; zero limits select defaults.
	Orchestrator orchestrator.Config
	// MaxStrategy caps strategy selection. Empty means no cap.
	MaxStrategy Strategy
}

// Supervisor routes requests to the cheapest strategy the assessment allows.
type Supervisor struct {
	oracle      oracle.Oracle
	publisher   progress.Publisher
	store       *taskctx.Store
	orchCfg     orchestrator.Config
	maxStrategy Strategy
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		oracle:      cfg.Oracle,
		publisher:   cfg.Publisher,
		store:       cfg.Store,
		orchCfg:     cfg.Orchestrator,
		maxStrategy: cfg.MaxStrategy,
	}
}

// Assess classifies the request without executing anything. Assessment
// failures degrade to a medium verdict so the request can still run.
func (s *Supervisor) Assess(ctx context.Context, req Request) *oracle.Assessment {
	assessment, err := s.oracle.AssessComplexity(ctx, req.Description, req.ConversationContext)
	if err != nil || assessment == nil || !assessment.Complexity.Valid() {
		debugReason := "unavailable"
		if err != nil {
			debugReason = err.Error()
		}
		return &oracle.Assessment{
			Complexity: oracle.ComplexityMedium,
			Reasoning:  fmt.Sprintf("assessment failed (%s), defaulting to medium", debugReason),
		}
	}
	return assessment
}

// Execute runs the full pipeline for one request: assess, select, execute,
// and emit the terminal event. The returned Result mirrors what the progress
// stream and the context store already published.
func (s *Supervisor) Execute(ctx context.Context, req Request) *Result {
	return s.ExecuteAssessed(ctx, req, s.Assess(ctx, req))
}

// ExecuteAssessed runs a request whose assessment the caller already has.
// The split exists so a transport can assess synchronously (to short-circuit
// delegation) and execute in the background.
func (s *Supervisor) ExecuteAssessed(ctx context.Context, req Request, assessment *oracle.Assessment) *Result {
	start := time.Now()

	s.emit(req.SessionID, models.ProgressStarted, fmt.Sprintf("Working on: %s", truncateMessage(req.Description)), 0, nil)
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Description: req.Description,
		Status:      "running",
	})

	if assessment == nil {
		assessment = s.Assess(ctx, req)
	}

	result := s.dispatch(ctx, req, assessment)
	result.Complexity = assessment.Complexity
	result.ExecutionTime = time.Since(start)
	return result
}

// dispatch routes the assessed request to its terminal path.
func (s *Supervisor) dispatch(ctx context.Context, req Request, assessment *oracle.Assessment) *Result {
	// Only the too-simple verdict delegates; a stray delegate-back flag on a
	// higher complexity is ignored and the request executes normally.
	if assessment.Complexity == oracle.ComplexityTooSimple {
		return s.finishDelegated(req, assessment)
	}

	if req.PlanOnly {
		return s.finishPlan(ctx, req)
	}

	strategy := s.selectStrategy(assessment.Complexity)
	s.snapshot(req.SessionID, taskctx.Snapshot{Strategy: string(strategy)})

	switch strategy {
	case StrategyDirect:
		return s.runDirect(ctx, req)
	case StrategyFlat:
		return s.runFlat(ctx, req)
	default:
		return s.runHierarchical(ctx, req)
	}
}

// selectStrategy maps an assessed complexity onto a strategy, honoring the
// configured ceiling. Too-simple never reaches here.
func (s *Supervisor) selectStrategy(c oracle.AssessedComplexity) Strategy {
	var strategy Strategy
	switch c {
	case oracle.ComplexitySimple:
		strategy = StrategyDirect
	case oracle.ComplexityComplex:
		strategy = StrategyHierarchical
	default:
		strategy = StrategyFlat
	}
	if s.maxStrategy.Valid() && strategyRank[strategy] > strategyRank[s.maxStrategy] {
		strategy = s.maxStrategy
	}
	return strategy
}

// finishDelegated closes a session that the caller should handle itself.
// Nothing executes; the guidance travels back in the result and the terminal
// event.
func (s *Supervisor) finishDelegated(req Request, assessment *oracle.Assessment) *Result {
	guidance := assessment.Guidance
	if guidance == "" {
		guidance = "Handle this request directly; it does not need decomposition."
	}
	s.emit(req.SessionID, models.ProgressCompleted, "Request handled by delegation", 100, map[string]any{
		"delegated": true,
		"guidance":  guidance,
	})
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status:   "completed",
		Progress: 100,
		Result:   guidance,
	})
	return &Result{
		SessionID: req.SessionID,
		Strategy:  StrategyDirect,
		Delegated: true,
		Guidance:  guidance,
		Response:  guidance,
	}
}

// finishPlan produces a future-tense plan and a confirmation prompt without
// executing anything.
func (s *Supervisor) finishPlan(ctx context.Context, req Request) *Result {
	plan, err := s.oracle.PlanSteps(ctx, req.Description, req.ConversationContext)
	if err != nil {
		return s.finishError(req, fmt.Errorf("plan: %w", err))
	}
	s.emit(req.SessionID, models.ProgressCompleted, "Plan ready for confirmation", 100, map[string]any{
		"plan_steps": plan.Steps,
		"result":     plan.ConfirmationPrompt,
	})
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status:   "completed",
		Progress: 100,
		Result:   plan.ConfirmationPrompt,
	})
	return &Result{
		SessionID: req.SessionID,
		Plan:      plan,
		Response:  plan.ConfirmationPrompt,
	}
}

// runDirect executes the request as a single task in one oracle call.
func (s *Supervisor) runDirect(ctx context.Context, req Request) *Result {
	task := &models.Task{
		ID:          models.RootTaskID,
		Description: req.Description,
		Complexity:  models.ComplexitySimple,
		Status:      models.TaskStatusInProgress,
	}
	s.emit(req.SessionID, models.ProgressTaskStarted, fmt.Sprintf("Executing: %s", truncateMessage(req.Description)), 10, nil)

	result, err := s.oracle.ExecuteTask(ctx, oracle.ExecutionRequest{
		Task:                task,
		ConversationContext: req.ConversationContext,
	})
	if err != nil {
		return s.finishError(req, err)
	}
	if result.Status != models.TaskStatusCompleted {
		return s.finishError(req, fmt.Errorf("execution failed: %s", orUnknown(result.Error)))
	}

	// The terminal event carries the full result so an observer reconnecting
	// mid-flight recovers the outcome from the stream alone.
	s.emit(req.SessionID, models.ProgressCompleted, "Request completed", 100, map[string]any{
		"result": result.Result,
	})
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status:   "completed",
		Progress: 100,
		Result:   result.Result,
	})
	return &Result{
		SessionID: req.SessionID,
		Strategy:  StrategyDirect,
		Response:  result.Result,
	}
}

// runFlat executes the request in one oracle call and synthesizes the
// displayed breakdown from the reported workflow steps. Steps arrive after
// the fact; step events are emitted in report order.
func (s *Supervisor) runFlat(ctx context.Context, req Request) *Result {
	task := &models.Task{
		ID:          models.RootTaskID,
		Description: req.Description,
		Complexity:  models.ComplexityModerate,
		Status:      models.TaskStatusInProgress,
	}
	s.emit(req.SessionID, models.ProgressTaskStarted, fmt.Sprintf("Executing workflow: %s", truncateMessage(req.Description)), 10, nil)

	result, err := s.oracle.ExecuteTask(ctx, oracle.ExecutionRequest{
		Task:                task,
		ConversationContext: req.ConversationContext,
	})
	if err != nil {
		return s.finishError(req, err)
	}
	if result.Status != models.TaskStatusCompleted {
		return s.finishError(req, fmt.Errorf("execution failed: %s", orUnknown(result.Error)))
	}

	breakdown := flatBreakdown(req.Description, result)
	for i, step := range result.WorkflowSteps {
		pct := stepProgress(i, len(result.WorkflowSteps))
		s.emit(req.SessionID, models.ProgressStepStarted, step, pct, nil)
	}

	s.emit(req.SessionID, models.ProgressCompleted, "Request completed", 100, map[string]any{
		"result":         result.Result,
		"workflow_steps": result.WorkflowSteps,
	})
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status:    "completed",
		Progress:  100,
		Result:    result.Result,
		Breakdown: breakdown,
	})
	return &Result{
		SessionID:     req.SessionID,
		Strategy:      StrategyFlat,
		Response:      result.Result,
		WorkflowSteps: result.WorkflowSteps,
		Breakdown:     breakdown,
	}
}

// runHierarchical hands the request to the orchestrator and adapts the oracle
// interface onto its function hooks.
func (s *Supervisor) runHierarchical(ctx context.Context, req Request) *Result {
	breakdownFn := func(ctx context.Context, task *models.Task, convCtx string, sib []string) (*oracle.BreakdownResult, error) {
		return s.oracle.Breakdown(ctx, oracle.BreakdownRequest{
			Task:                task,
			ConversationContext: convCtx,
			SiblingResults:      sib,
		})
	}
	executeFn := func(ctx context.Context, task *models.Task, convCtx string, sib []string) (*oracle.ExecutionResult, error) {
		return s.oracle.ExecuteTask(ctx, oracle.ExecutionRequest{
			Task:                task,
			ConversationContext: convCtx,
			SiblingResults:      sib,
		})
	}
	reportFn := func(ctx context.Context, root *models.Task, tree *models.TaskTree) (*oracle.Report, error) {
		return s.oracle.SynthesizeReport(ctx, oracle.ReportRequest{
			Root:                root,
			Tree:                tree,
			ConversationContext: req.ConversationContext,
		})
	}

	orch := s.orchestratorForSession(req.SessionID)
	report, err := orch.ExecuteComplexTask(ctx, req.SessionID, req.Description, req.ConversationContext, breakdownFn, executeFn, reportFn)
	if err != nil {
		return s.finishError(req, err)
	}

	s.emit(req.SessionID, models.ProgressCompleted, "Request completed", 100, map[string]any{
		"result":          report.NextResponse,
		"summary":         report.Summary,
		"tasks_completed": report.TasksCompleted,
		"tasks_failed":    report.TasksFailed,
	})
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status:    "completed",
		Progress:  100,
		Result:    report.NextResponse,
		Breakdown: report.Breakdown.Clone(),
	})
	return &Result{
		SessionID: req.SessionID,
		Strategy:  StrategyHierarchical,
		Response:  report.NextResponse,
		Report:    report,
		Breakdown: report.Breakdown,
	}
}

// orchestratorForSession builds an orchestrator from the configured limits
// with a per-session tree snapshot hook so the context store always reflects
// the latest tree.
func (s *Supervisor) orchestratorForSession(sessionID string) *orchestrator.Orchestrator {
	cfg := s.orchCfg
	cfg.Publisher = s.publisher
	if s.store != nil {
		cfg.OnTreeUpdate = func(tree *models.TaskTree) {
			s.snapshot(sessionID, taskctx.Snapshot{
				Progress:  tree.ProgressPercent(),
				Breakdown: tree.Root.Clone(),
			})
		}
	}
	return orchestrator.New(cfg)
}

// finishError emits the terminal error event and closes the snapshot.
func (s *Supervisor) finishError(req Request, err error) *Result {
	s.emit(req.SessionID, models.ProgressError, err.Error(), 0, nil)
	s.snapshot(req.SessionID, taskctx.Snapshot{
		Status: "error",
		Result: err.Error(),
	})
	return &Result{
		SessionID: req.SessionID,
		Response:  fmt.Sprintf("The request could not be completed: %s", err.Error()),
		Err:       err.Error(),
	}
}

func (s *Supervisor) emit(sessionID string, typ models.ProgressType, message string, pct int, details map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Emit(models.ProgressUpdate{
		SessionID: sessionID,
		Type:      typ,
		Message:   message,
		Progress:  pct,
		Details:   details,
		Timestamp: time.Now(),
	})
}

func (s *Supervisor) snapshot(sessionID string, snap taskctx.Snapshot) {
	if s.store == nil {
		return
	}
	s.store.Set(sessionID, snap)
}

// flatBreakdown builds a display-only tree from reported workflow steps. The
// children are synthetic and already completed; they exist for UIs that
// render a step list.
func flatBreakdown(description string, result *oracle.ExecutionResult) *models.Task {
	root := &models.Task{
		ID:          models.RootTaskID,
		Description: description,
		Complexity:  models.ComplexityModerate,
		Status:      models.TaskStatusCompleted,
		Result:      result.Result,
	}
	for i, step := range result.WorkflowSteps {
		root.Subtasks = append(root.Subtasks, &models.Task{
			ID:          models.ChildID(root.ID, i),
			ParentID:    root.ID,
			Description: step,
			Complexity:  models.ComplexitySimple,
			Status:      models.TaskStatusCompleted,
		})
	}
	return root
}

// stepProgress spaces synthetic step percentages between start and done.
func stepProgress(index, total int) int {
	if total <= 0 {
		return 100
	}
	return 10 + (index+1)*80/total
}

func truncateMessage(s string) string {
	const max = 120
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
