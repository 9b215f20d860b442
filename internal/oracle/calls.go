package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// AssessComplexity classifies an incoming request. A reply in an unknown
// shape degrades to medium complexity rather than failing the request.
func (c *Client) AssessComplexity(ctx context.Context, description, conversationContext string) (*Assessment, error) {
	prompt := fmt.Sprintf(assessPromptFmt, description, orNone(conversationContext))
	response, err := c.runPrompt(ctx, assessSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("assess complexity: %w", err)
	}

	var raw struct {
		Complexity         string `json:"complexity"`
		Reasoning          string `json:"reasoning"`
		ShouldDelegateBack bool   `json:"should_delegate_back"`
		Guidance           string `json:"guidance"`
	}
	if err := parseInto(response, &raw); err != nil {
		// Conservative default: keep the pipeline moving on a malformed verdict.
		return &Assessment{
			Complexity: ComplexityMedium,
			Reasoning:  "assessment failed: " + err.Error(),
		}, nil
	}

	return &Assessment{
		Complexity:         normalizeComplexity(raw.Complexity),
		Reasoning:          raw.Reasoning,
		ShouldDelegateBack: raw.ShouldDelegateBack,
		Guidance:           raw.Guidance,
	}, nil
}

// Breakdown decides whether a task needs decomposition. Malformed replies
// degrade to "no breakdown" so the task executes as a leaf.
func (c *Client) Breakdown(ctx context.Context, req BreakdownRequest) (*BreakdownResult, error) {
	prompt := fmt.Sprintf(breakdownPromptFmt,
		req.Task.Level(),
		req.Task.Description,
		orNone(req.ConversationContext),
		orNone(strings.Join(req.SiblingResults, "\n")),
		maxSubtasksHint,
	)
	response, err := c.runPrompt(ctx, breakdownSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("breakdown: %w", err)
	}

	var raw struct {
		ShouldBreakdown bool   `json:"should_breakdown"`
		DirectExecution bool   `json:"direct_execution"`
		Reasoning       string `json:"reasoning"`
		Subtasks        []struct {
			Description         string `json:"description"`
			EstimatedComplexity string `json:"estimated_complexity"`
			Dependencies        []int  `json:"dependencies"`
		} `json:"subtasks"`
	}
	if err := parseInto(response, &raw); err != nil {
		return &BreakdownResult{
			ShouldBreakdown: false,
			DirectExecution: true,
			Reasoning:       "breakdown response unparseable: " + err.Error(),
		}, nil
	}

	result := &BreakdownResult{
		ShouldBreakdown: raw.ShouldBreakdown,
		DirectExecution: raw.DirectExecution,
		Reasoning:       raw.Reasoning,
	}
	for _, st := range raw.Subtasks {
		if strings.TrimSpace(st.Description) == "" {
			continue
		}
		result.Subtasks = append(result.Subtasks, SubtaskSpec{
			Description:         st.Description,
			EstimatedComplexity: normalizeTaskComplexity(st.EstimatedComplexity),
			Dependencies:        st.Dependencies,
		})
	}
	if result.ShouldBreakdown && len(result.Subtasks) == 0 {
		// A breakdown verdict without subtasks is treated as no breakdown.
		result.ShouldBreakdown = false
	}
	return result, nil
}

// ExecuteTask executes a leaf task or aggregates a parent's collected
// subtask results. A malformed reply counts as a failed execution.
func (c *Client) ExecuteTask(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	prompt := fmt.Sprintf(executePromptFmt,
		req.Task.Description,
		orNone(req.ConversationContext),
		orNone(strings.Join(req.SiblingResults, "\n")),
		orNone(strings.Join(req.Task.SubtaskResults, "\n")),
	)
	response, err := c.runPrompt(ctx, executeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("execute task: %w", err)
	}

	var raw struct {
		Status          string   `json:"status"`
		Result          string   `json:"result"`
		Error           string   `json:"error"`
		WorkflowSteps   []string `json:"workflow_steps"`
		NeedsRefinement bool     `json:"needs_refinement"`
		FailureKind     string   `json:"failure_kind"`
	}
	if err := parseInto(response, &raw); err != nil {
		return &ExecutionResult{
			Status:      models.TaskStatusFailed,
			Error:       "execution response unparseable: " + err.Error(),
			FailureKind: FailureGeneric,
		}, nil
	}

	result := &ExecutionResult{
		Result:          raw.Result,
		Error:           raw.Error,
		WorkflowSteps:   raw.WorkflowSteps,
		NeedsRefinement: raw.NeedsRefinement,
	}
	if strings.EqualFold(raw.Status, string(models.TaskStatusCompleted)) {
		result.Status = models.TaskStatusCompleted
	} else {
		result.Status = models.TaskStatusFailed
		if result.Error == "" {
			result.Error = "task reported status " + raw.Status
		}
		result.FailureKind = normalizeFailureKind(raw.FailureKind)
	}
	return result, nil
}

// SynthesizeReport produces the final narrative over collected results.
func (c *Client) SynthesizeReport(ctx context.Context, req ReportRequest) (*Report, error) {
	prompt := fmt.Sprintf(reportPromptFmt,
		req.Root.Description,
		orNone(req.ConversationContext),
		orNone(models.CollectResults(req.Root)),
		req.Tree.CompletedTasks,
		req.Tree.FailedTasks,
	)
	response, err := c.runPrompt(ctx, reportSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesize report: %w", err)
	}

	var report Report
	if err := parseInto(response, &report); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if report.NextResponse == "" {
		report.NextResponse = report.ExecutionSummary
	}
	return &report, nil
}

// PlanSteps produces an ordered future-tense plan without executing.
func (c *Client) PlanSteps(ctx context.Context, description, conversationContext string) (*Plan, error) {
	prompt := fmt.Sprintf(planPromptFmt, description, orNone(conversationContext))
	response, err := c.runPrompt(ctx, planSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan steps: %w", err)
	}

	var plan Plan
	if err := parseInto(response, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan contained no steps")
	}
	if plan.ConfirmationPrompt == "" {
		plan.ConfirmationPrompt = "Shall I proceed with this plan?"
	}
	return &plan, nil
}

// maxSubtasksHint is surfaced in the breakdown prompt; the orchestrator
// enforces its own limit regardless of what the oracle returns.
const maxSubtasksHint = 10

func normalizeTaskComplexity(raw string) models.Complexity {
	c := models.Complexity(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return models.ComplexityModerate
	}
	return c
}

func normalizeFailureKind(raw string) FailureKind {
	switch FailureKind(strings.ToLower(strings.TrimSpace(raw))) {
	case FailureNeedUserInput:
		return FailureNeedUserInput
	case FailureNeedsResearch:
		return FailureNeedsResearch
	case FailureToolError:
		return FailureToolError
	default:
		return FailureGeneric
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
