package models

import "testing"

func TestRelinearizeGrowsTotal(t *testing.T) {
	root := &Task{ID: RootTaskID, Description: "root", Status: TaskStatusPlanned}
	tree := NewTaskTree(root, "")
	tree.Order = ExecutionOrder(root)
	tree.TotalTasks = len(tree.Order)

	if tree.TotalTasks != 1 {
		t.Fatalf("leaf root should schedule itself, total = %d", tree.TotalTasks)
	}

	// Root becomes a parent of two leaves.
	for i := 0; i < 2; i++ {
		child := &Task{ID: ChildID(root.ID, i), ParentID: root.ID, Status: TaskStatusPlanned}
		root.Subtasks = append(root.Subtasks, child)
		tree.Register(child)
	}
	tree.Relinearize()

	if tree.TotalTasks != 2 {
		t.Errorf("total = %d, expected 2 after relinearize", tree.TotalTasks)
	}
	if len(tree.Order) != 2 {
		t.Errorf("order = %v", tree.Order)
	}
	for _, id := range tree.Order {
		if id == RootTaskID {
			t.Error("parent must not appear in the schedule")
		}
	}
}

func TestRelinearizeNeverShrinksTotal(t *testing.T) {
	root := &Task{ID: RootTaskID, Status: TaskStatusPlanned}
	for i := 0; i < 3; i++ {
		root.Subtasks = append(root.Subtasks, &Task{ID: ChildID(root.ID, i), ParentID: root.ID, Status: TaskStatusPlanned})
	}
	tree := NewTaskTree(root, "")
	tree.Order = ExecutionOrder(root)
	tree.TotalTasks = len(tree.Order)

	// Shape change that yields fewer leaves must not lower the total.
	root.Subtasks = root.Subtasks[:1]
	tree.Relinearize()

	if tree.TotalTasks != 3 {
		t.Errorf("total = %d, must not shrink below 3", tree.TotalTasks)
	}
}
