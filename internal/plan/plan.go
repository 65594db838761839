package plan

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan indicates a plan that fails compile-time validation.
var ErrInvalidPlan = errors.New("invalid plan")

// WorkerType selects which executor capability handles a task.
type WorkerType string

// Worker types known to the commerce deployment. The engine treats the
// type as an opaque tag; these exist so plans and configs agree on names.
const (
	WorkerSales   WorkerType = "sales"
	WorkerPayment WorkerType = "payment"
	WorkerAdmin   WorkerType = "admin"
	WorkerSupport WorkerType = "support"
)

// Task is a unit of work assigned to a worker type. Immutable after Compile.
type Task struct {
	ID           string     `json:"id"`
	Worker       WorkerType `json:"worker"`
	Description  string     `json:"description"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Rationale    string     `json:"rationale,omitempty"`
}

// Plan is an ordered set of tasks produced by a planner for one run.
type Plan struct {
	tasks []Task
	index map[string]int
}

// Compile validates raw tasks and freezes them into a Plan.
// It rejects duplicate IDs, empty IDs, dependencies on unknown tasks and
// self-dependencies. It deliberately does not detect cycles: a cyclic plan
// deadlocks safely at runtime instead of failing here.
func Compile(tasks []Task) (*Plan, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task at position %d has empty id", ErrInvalidPlan, i)
		}
		if t.Worker == "" {
			return nil, fmt.Errorf("%w: task %s has no worker type", ErrInvalidPlan, t.ID)
		}
		if _, dup := index[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task id %s", ErrInvalidPlan, t.ID)
		}
		index[t.ID] = i
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return nil, fmt.Errorf("%w: task %s depends on itself", ErrInvalidPlan, t.ID)
			}
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidPlan, t.ID, dep)
			}
		}
	}

	frozen := make([]Task, len(tasks))
	copy(frozen, tasks)
	return &Plan{tasks: frozen, index: index}, nil
}

// Tasks returns the tasks in declaration order. Callers must not mutate
// the returned slice.
func (p *Plan) Tasks() []Task {
	return p.tasks
}

// Get returns the task with the given ID.
func (p *Plan) Get(id string) (Task, bool) {
	i, ok := p.index[id]
	if !ok {
		return Task{}, false
	}
	return p.tasks[i], true
}

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int {
	return len(p.tasks)
}

// TaskIDs returns all task IDs in declaration order.
func (p *Plan) TaskIDs() []string {
	ids := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		ids[i] = t.ID
	}
	return ids
}
