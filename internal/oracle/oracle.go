// Package oracle adapts an external reasoning capability to the four
// structured decisions the engine needs: complexity assessment, task
// breakdown, task execution, and report synthesis.
//
// Every operation is asynchronous, fallible, and must be treated as a
// non-deterministic classifier rather than a guaranteed-correct oracle.
// Responses that fail to match a known shape collapse to conservative
// defaults instead of errors wherever a default exists.
package oracle

import (
	"context"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// AssessedComplexity is the oracle's verdict on an incoming request.
type AssessedComplexity string

const (
	// ComplexityTooSimple means the caller should handle the task itself.
	ComplexityTooSimple AssessedComplexity = "too_simple"
	// ComplexitySimple maps to the direct strategy.
	ComplexitySimple AssessedComplexity = "simple"
	// ComplexityMedium maps to the flat strategy.
	ComplexityMedium AssessedComplexity = "medium"
	// ComplexityComplex maps to the hierarchical strategy.
	ComplexityComplex AssessedComplexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c AssessedComplexity) Valid() bool {
	switch c {
	case ComplexityTooSimple, ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	default:
		return false
	}
}

// FailureKind classifies an execution failure.
type FailureKind string

const (
	// FailureNeedUserInput means the task needs information only the user has.
	FailureNeedUserInput FailureKind = "need_user_input"
	// FailureNeedsResearch means the task needs investigation before retry.
	FailureNeedsResearch FailureKind = "needs_research"
	// FailureToolError means a concrete tool/action failed.
	FailureToolError FailureKind = "tool_error"
	// FailureGeneric is the catch-all failure class.
	FailureGeneric FailureKind = "generic"
)

// Assessment is the result of complexity assessment.
type Assessment struct {
	// Complexity is the verdict.
	Complexity AssessedComplexity `json:"complexity"`
	// Reasoning explains the verdict.
	Reasoning string `json:"reasoning"`
	// ShouldDelegateBack is true when the caller should execute the task itself.
	ShouldDelegateBack bool `json:"should_delegate_back"`
	// Guidance carries instructions for the delegating caller.
	Guidance string `json:"guidance,omitempty"`
}

// SubtaskSpec describes one subtask in a breakdown response.
type SubtaskSpec struct {
	// Description states what the subtask must do.
	Description string `json:"description"`
	// EstimatedComplexity is the oracle's complexity estimate for the subtask.
	EstimatedComplexity models.Complexity `json:"estimated_complexity"`
	// Dependencies lists zero-based indices of earlier siblings this subtask
	// waits for.
	Dependencies []int `json:"dependencies,omitempty"`
}

// BreakdownRequest asks whether a task needs decomposition.
type BreakdownRequest struct {
	// Task is the candidate for breakdown.
	Task *models.Task
	// ConversationContext is the originating conversation context.
	ConversationContext string
	// SiblingResults holds results of already-completed siblings as hints.
	SiblingResults []string
}

// BreakdownResult is the oracle's decomposition decision.
type BreakdownResult struct {
	// ShouldBreakdown is false when the task stays a leaf.
	ShouldBreakdown bool `json:"should_breakdown"`
	// Subtasks lists the children to create when ShouldBreakdown is true.
	Subtasks []SubtaskSpec `json:"subtasks,omitempty"`
	// Reasoning explains the decision.
	Reasoning string `json:"reasoning"`
	// DirectExecution is true when the oracle judges the task trivially
	// executable; the task's complexity may be downgraded to simple.
	DirectExecution bool `json:"direct_execution,omitempty"`
}

// ExecutionRequest asks the oracle to execute one task.
type ExecutionRequest struct {
	// Task is the task to execute. Non-empty SubtaskResults on the task
	// signal aggregation mode.
	Task *models.Task
	// ConversationContext is the originating conversation context.
	ConversationContext string
	// SiblingResults holds results of already-completed siblings.
	SiblingResults []string
}

// ExecutionResult is the outcome of executing one task.
type ExecutionResult struct {
	// Status is "completed" or "failed".
	Status models.TaskStatus `json:"status"`
	// Result is the free-text outcome on success.
	Result string `json:"result,omitempty"`
	// Error is the failure message on failure.
	Error string `json:"error,omitempty"`
	// WorkflowSteps reports the steps taken, for flat-strategy display.
	WorkflowSteps []string `json:"workflow_steps,omitempty"`
	// NeedsRefinement signals that a failed task should be re-broken-down.
	NeedsRefinement bool `json:"needs_refinement,omitempty"`
	// FailureKind classifies the failure.
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

// ReportRequest asks for a synthesized final narrative.
type ReportRequest struct {
	// Root is the finished root task.
	Root *models.Task
	// Tree is the full finished tree.
	Tree *models.TaskTree
	// ConversationContext is the originating conversation context.
	ConversationContext string
}

// Report is the synthesized final narrative.
type Report struct {
	// DetailedResults is the full narrative over collected results.
	DetailedResults string `json:"detailed_results"`
	// ExecutionSummary is the one-paragraph summary.
	ExecutionSummary string `json:"execution_summary"`
	// KeyFindings lists notable outcomes.
	KeyFindings []string `json:"key_findings,omitempty"`
	// NextResponse is the user-facing reply.
	NextResponse string `json:"next_response"`
	// WorkflowSteps reports the executed steps for display.
	WorkflowSteps []string `json:"workflow_steps,omitempty"`
}

// Plan is the result of plan-only mode: future-tense steps and a prompt
// asking the user to confirm before anything executes.
type Plan struct {
	// Steps is the ordered list of planned steps, future tense.
	Steps []string `json:"steps"`
	// ConfirmationPrompt asks the user whether to proceed.
	ConfirmationPrompt string `json:"confirmation_prompt"`
}

// Oracle is the decision boundary consumed by the supervisor and the
// orchestrator.
type Oracle interface {
	// AssessComplexity classifies an incoming request.
	AssessComplexity(ctx context.Context, description, conversationContext string) (*Assessment, error)
	// Breakdown decides whether a task needs decomposition and into what.
	Breakdown(ctx context.Context, req BreakdownRequest) (*BreakdownResult, error)
	// ExecuteTask executes a leaf or aggregates a parent.
	ExecuteTask(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
	// SynthesizeReport produces the final narrative over collected results.
	SynthesizeReport(ctx context.Context, req ReportRequest) (*Report, error)
	// PlanSteps produces an ordered future-tense plan without executing.
	PlanSteps(ctx context.Context, description, conversationContext string) (*Plan, error)
}
