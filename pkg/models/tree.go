package models

import "math"

// TaskTree is the aggregate for one hierarchical execution: the root task, a
// flat ID index for O(1) lookup, the precomputed leaf schedule, and progress
// counters. Built once per request, mutated in place during execution, and
// discarded after the final report.
type TaskTree struct {
	// Root is the tree root.
	Root *Task `json:"root"`
	// Index maps task ID to the task node.
	Index map[string]*Task `json:"-"`
	// Order is the precomputed execution schedule (leaf IDs only).
	Order []string `json:"-"`
	// TotalTasks is the number of schedulable leaf tasks.
	TotalTasks int `json:"total_tasks"`
	// CompletedTasks counts leaves that completed successfully.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks counts leaves that failed.
	FailedTasks int `json:"failed_tasks"`
	// ConversationContext is the originating conversation context.
	ConversationContext string `json:"-"`
}

// NewTaskTree creates a tree around the given root and registers it.
func NewTaskTree(root *Task, conversationContext string) *TaskTree {
	tree := &TaskTree{
		Root:                root,
		Index:               make(map[string]*Task),
		ConversationContext: conversationContext,
	}
	tree.Register(root)
	return tree
}

// Register adds a task to the flat index.
func (tt *TaskTree) Register(t *Task) {
	tt.Index[t.ID] = t
}

// Get returns the task with the given ID, or nil.
func (tt *TaskTree) Get(id string) *Task {
	return tt.Index[id]
}

// ProgressPercent returns the rounded completion percentage, 0 when the tree
// has no schedulable tasks.
func (tt *TaskTree) ProgressPercent() int {
	if tt.TotalTasks == 0 {
		return 0
	}
	return int(math.Round(float64(tt.CompletedTasks) / float64(tt.TotalTasks) * 100))
}

// Relinearize recomputes the execution schedule and total after the tree
// shape changed (refinement re-breakdown). Counters are never decreased.
func (tt *TaskTree) Relinearize() {
	tt.Order = ExecutionOrder(tt.Root)
	if len(tt.Order) > tt.TotalTasks {
		tt.TotalTasks = len(tt.Order)
	}
}
