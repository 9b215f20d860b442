package models

import (
	"strconv"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPlanned indicates the task has not started.
	TaskStatusPlanned TaskStatus = "planned"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed because a dependency did not complete.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the task became moot and was not executed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPlanned, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Settled returns true if the task reached a terminal state.
func (s TaskStatus) Settled() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusSkipped
}

// Complexity estimates how much decomposition a task needs.
type Complexity string

const (
	// ComplexitySimple tasks execute directly and are never broken down.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate tasks may execute directly or break into a few subtasks.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex tasks are always considered for breakdown.
	ComplexityComplex Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// RootTaskID is the fixed identifier of the tree root.
const RootTaskID = "root"

// Task is a node in the decomposition tree.
//
// The ID encodes the node's position: the root is RootTaskID and a child's ID
// is its parent's ID plus a zero-based index ("root.0", "root.0.2", ...).
type Task struct {
	// ID is the unique, position-encoding identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the owning task, empty for the root.
	ParentID string `json:"parent_id,omitempty"`
	// Description states what must be done (future tense until executed).
	Description string `json:"description"`
	// Complexity determines whether further breakdown is attempted.
	Complexity Complexity `json:"complexity"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Subtasks is the ordered list of children. Empty means leaf.
	Subtasks []*Task `json:"subtasks,omitempty"`
	// SubtaskResults collects completed children's results in completion order.
	// A non-empty slice signals aggregation mode to the executor.
	SubtaskResults []string `json:"subtask_results,omitempty"`
	// Result holds the terminal output on success. Mutually exclusive with Error.
	Result string `json:"result,omitempty"`
	// Error holds the failure message on failure. Mutually exclusive with Result.
	Error string `json:"error,omitempty"`
	// Dependencies lists sibling IDs that must complete before this task starts.
	Dependencies []string `json:"dependencies,omitempty"`
	// Refined is set once a failed task has been reset for re-breakdown.
	// A task may take the refinement path at most once.
	Refined bool `json:"refined,omitempty"`
	// StartedAt is when execution began, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task settled, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task and its subtree. Snapshots handed to
// concurrent readers must be clones; the live tree has a single writer.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.SubtaskResults != nil {
		c.SubtaskResults = append([]string(nil), t.SubtaskResults...)
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Subtasks != nil {
		c.Subtasks = make([]*Task, len(t.Subtasks))
		for i, sub := range t.Subtasks {
			c.Subtasks[i] = sub.Clone()
		}
	}
	return &c
}

// ChildID derives the ID for the child of parentID at the given zero-based
// index. The derivation is deterministic and collision-free under the
// one-parent-one-index rule.
func ChildID(parentID string, index int) string {
	return parentID + "." + strconv.Itoa(index)
}

// Level returns the nesting depth encoded in a task ID. The root is level 0.
func Level(id string) int {
	return strings.Count(id, ".")
}

// IsLeaf returns true if the task has no subtasks.
func (t *Task) IsLeaf() bool {
	return len(t.Subtasks) == 0
}

// Level returns the task's nesting depth.
func (t *Task) Level() int {
	return Level(t.ID)
}

// Leaves returns all leaf descendants of the task, itself included when it
// is a leaf. Used for sizing; execution ordering is computed separately.
func (t *Task) Leaves() []*Task {
	if t.IsLeaf() {
		return []*Task{t}
	}
	var leaves []*Task
	for _, sub := range t.Subtasks {
		leaves = append(leaves, sub.Leaves()...)
	}
	return leaves
}

// Duration returns the wall-clock execution time, or zero when the task
// never ran to a settled state.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// DependenciesSatisfied returns true if every dependency of the task resolves
// to a completed task in the index. Unknown dependency IDs count as unmet.
func DependenciesSatisfied(t *Task, index map[string]*Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := index[depID]
		if !ok || dep.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}

// ExecutionOrder returns the IDs of all leaf tasks in execution order.
//
// The traversal is post-order depth-first. Within each sibling group a stable
// topological pass moves dependencies ahead of their dependents while keeping
// the original order otherwise. Non-leaf IDs never appear; parents complete
// implicitly when their last child settles.
func ExecutionOrder(root *Task) []string {
	var order []string
	var visit func(t *Task)
	visit = func(t *Task) {
		if t.IsLeaf() {
			order = append(order, t.ID)
			return
		}
		for _, sub := range sortSiblings(t.Subtasks) {
			visit(sub)
		}
	}
	visit(root)
	return order
}

// sortSiblings returns siblings reordered so that every dependency precedes
// its dependents. The sort is stable: ties keep the original child order.
// Sibling dependency graphs are acyclic by construction; if a cycle slips in
// anyway the unplaceable remainder is appended in original order.
func sortSiblings(siblings []*Task) []*Task {
	placed := make(map[string]bool, len(siblings))
	result := make([]*Task, 0, len(siblings))
	remaining := append([]*Task(nil), siblings...)

	for len(remaining) > 0 {
		progressed := false
		var next []*Task
		for _, t := range remaining {
			ready := true
			for _, depID := range t.Dependencies {
				if !placed[depID] && siblingHas(siblings, depID) {
					ready = false
					break
				}
			}
			if ready {
				placed[t.ID] = true
				result = append(result, t)
				progressed = true
			} else {
				next = append(next, t)
			}
		}
		remaining = next
		if !progressed {
			result = append(result, remaining...)
			break
		}
	}
	return result
}

func siblingHas(siblings []*Task, id string) bool {
	for _, s := range siblings {
		if s.ID == id {
			return true
		}
	}
	return false
}

// CollectResults synthesizes a human-readable result for a task from its
// completed children. Leaves return their own result. This is the fallback
// narrative when report synthesis is unavailable.
func CollectResults(t *Task) string {
	if t.IsLeaf() {
		return t.Result
	}
	var parts []string
	for i, sub := range t.Subtasks {
		if sub.Status != TaskStatusCompleted {
			continue
		}
		parts = append(parts, strconv.Itoa(i+1)+". "+sub.Description+": "+CollectResults(sub))
	}
	return strings.Join(parts, "\n")
}
