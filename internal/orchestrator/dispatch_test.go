package orchestrator

import (
	"testing"

	"github.com/nidhogg/overseer/internal/plan"
)

func mustCompile(t *testing.T, tasks []plan.Task) *plan.Plan {
	t.Helper()
	p, err := plan.Compile(tasks)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func TestSelectRunnableIndependentTasks(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "a", Worker: plan.WorkerSales},
		{ID: "b", Worker: plan.WorkerPayment},
		{ID: "c", Worker: plan.WorkerAdmin},
	})
	statuses := map[string]TaskStatus{"a": TaskPending, "b": TaskPending, "c": TaskPending}

	d := selectRunnable(p, statuses)
	if len(d.selected) != 3 {
		t.Fatalf("got %d selected, want 3", len(d.selected))
	}
	for _, task := range d.selected {
		if d.delta[task.ID] != TaskInProgress {
			t.Errorf("task %s not marked in_progress", task.ID)
		}
	}
}

func TestSelectRunnableOnePerWorkerType(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "first", Worker: plan.WorkerSales},
		{ID: "second", Worker: plan.WorkerSales},
	})
	statuses := map[string]TaskStatus{"first": TaskPending, "second": TaskPending}

	d := selectRunnable(p, statuses)
	if len(d.selected) != 1 {
		t.Fatalf("got %d selected, want 1", len(d.selected))
	}
	// Plan order breaks the tie: the first eligible task wins the slot.
	if d.selected[0].ID != "first" {
		t.Errorf("got %s, want first", d.selected[0].ID)
	}
}

func TestSelectRunnableWaitsForDependencies(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "a", Worker: plan.WorkerSales},
		{ID: "b", Worker: plan.WorkerPayment, Dependencies: []string{"a"}},
	})

	d := selectRunnable(p, map[string]TaskStatus{"a": TaskPending, "b": TaskPending})
	if len(d.selected) != 1 || d.selected[0].ID != "a" {
		t.Fatalf("cycle 1: got %v, want only a", d.selected)
	}

	d = selectRunnable(p, map[string]TaskStatus{"a": TaskApproved, "b": TaskPending})
	if len(d.selected) != 1 || d.selected[0].ID != "b" {
		t.Fatalf("after approval: got %v, want only b", d.selected)
	}
}

func TestSelectRunnableReviewingIsEligible(t *testing.T) {
	p := mustCompile(t, []plan.Task{{ID: "a", Worker: plan.WorkerSales}})
	d := selectRunnable(p, map[string]TaskStatus{"a": TaskReviewing})
	if len(d.selected) != 1 {
		t.Fatal("a rejected task must re-enter the dispatch pool")
	}
}

func TestSelectRunnableFailedShortCircuits(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "a", Worker: plan.WorkerSales},
		{ID: "b", Worker: plan.WorkerPayment},
		{ID: "c", Worker: plan.WorkerAdmin},
	})
	statuses := map[string]TaskStatus{"a": TaskPending, "b": TaskFailed, "c": TaskPending}

	d := selectRunnable(p, statuses)
	if d.failedTask != "b" {
		t.Fatalf("got failedTask %q, want b", d.failedTask)
	}
	if len(d.selected) != 0 {
		t.Errorf("selection must be empty on short-circuit, got %v", d.selected)
	}
}

func TestSelectRunnableCycleSelectsNothing(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "a", Worker: plan.WorkerSales, Dependencies: []string{"b"}},
		{ID: "b", Worker: plan.WorkerSales, Dependencies: []string{"a"}},
	})
	d := selectRunnable(p, map[string]TaskStatus{"a": TaskPending, "b": TaskPending})
	if len(d.selected) != 0 || d.failedTask != "" {
		t.Fatalf("cyclic plan must select nothing, got %+v", d)
	}

	stuck := stuckTasks(p, map[string]TaskStatus{"a": TaskPending, "b": TaskPending})
	if len(stuck) != 2 {
		t.Errorf("got stuck %v, want both tasks", stuck)
	}
}

func TestSelectRunnableSkipsInProgressAndTerminal(t *testing.T) {
	p := mustCompile(t, []plan.Task{
		{ID: "a", Worker: plan.WorkerSales},
		{ID: "b", Worker: plan.WorkerPayment},
	})
	d := selectRunnable(p, map[string]TaskStatus{"a": TaskInProgress, "b": TaskApproved})
	if len(d.selected) != 0 {
		t.Errorf("got %v, want nothing selected", d.selected)
	}
}
