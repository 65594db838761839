package plan

import (
	"errors"
	"testing"
)

func TestCompileValid(t *testing.T) {
	p, err := Compile([]Task{
		{ID: "stock", Worker: WorkerSales, Description: "confirm stock"},
		{ID: "delivery", Worker: WorkerPayment, Description: "quote delivery"},
		{ID: "approve", Worker: WorkerAdmin, Description: "approve order", Dependencies: []string{"stock", "delivery"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("got %d tasks, want 3", p.Len())
	}

	task, ok := p.Get("approve")
	if !ok {
		t.Fatal("task approve not found")
	}
	if len(task.Dependencies) != 2 {
		t.Errorf("got %d deps, want 2", len(task.Dependencies))
	}

	ids := p.TaskIDs()
	if ids[0] != "stock" || ids[2] != "approve" {
		t.Errorf("declaration order not preserved: %v", ids)
	}
}

func TestCompileRejectsDuplicateID(t *testing.T) {
	_, err := Compile([]Task{
		{ID: "a", Worker: WorkerSales},
		{ID: "a", Worker: WorkerPayment},
	})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("got %v, want ErrInvalidPlan", err)
	}
}

func TestCompileRejectsUnknownDependency(t *testing.T) {
	_, err := Compile([]Task{
		{ID: "a", Worker: WorkerSales, Dependencies: []string{"ghost"}},
	})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("got %v, want ErrInvalidPlan", err)
	}
}

func TestCompileRejectsSelfLoop(t *testing.T) {
	_, err := Compile([]Task{
		{ID: "a", Worker: WorkerSales, Dependencies: []string{"a"}},
	})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("got %v, want ErrInvalidPlan", err)
	}
}

func TestCompileRejectsEmptyPlan(t *testing.T) {
	if _, err := Compile(nil); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("got %v, want ErrInvalidPlan", err)
	}
}

func TestCompileAcceptsCycle(t *testing.T) {
	// Cycles pass compile; the runtime deadlock valve handles them.
	_, err := Compile([]Task{
		{ID: "a", Worker: WorkerSales, Dependencies: []string{"b"}},
		{ID: "b", Worker: WorkerSales, Dependencies: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompileCopiesInput(t *testing.T) {
	raw := []Task{{ID: "a", Worker: WorkerSales, Description: "original"}}
	p, err := Compile(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw[0].Description = "mutated"

	task, _ := p.Get("a")
	if task.Description != "original" {
		t.Error("plan shares storage with caller input")
	}
}
