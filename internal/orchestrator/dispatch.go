package orchestrator

import "github.com/nidhogg/overseer/internal/plan"

// dispatchResult is one scheduling decision over the whole plan.
type dispatchResult struct {
	// selected tasks to execute this cycle, at most one per worker type.
	selected []plan.Task
	// delta holds the in_progress markers for the selected tasks.
	delta map[string]TaskStatus
	// failedTask is set when any task has terminally failed; the run
	// short-circuits and nothing is selected.
	failedTask string
}

// selectRunnable scans the plan in declaration order and picks every task
// that is pending or reviewing with all dependencies approved, subject to
// one active task per worker type per cycle. The first eligible task for
// a worker type claims that type's slot.
func selectRunnable(p *plan.Plan, statuses map[string]TaskStatus) dispatchResult {
	res := dispatchResult{delta: make(map[string]TaskStatus)}
	claimed := make(map[plan.WorkerType]bool)

	for _, task := range p.Tasks() {
		status, ok := statuses[task.ID]
		if !ok {
			status = TaskPending
		}

		if status == TaskFailed {
			// A single failed task fails the whole run; never leave the
			// caller awaiting dependents of a task that cannot succeed.
			return dispatchResult{failedTask: task.ID}
		}

		if status != TaskPending && status != TaskReviewing {
			continue
		}
		if claimed[task.Worker] {
			continue
		}

		depsMet := true
		for _, dep := range task.Dependencies {
			if statuses[dep] != TaskApproved {
				depsMet = false
				break
			}
		}
		if !depsMet {
			continue
		}

		res.selected = append(res.selected, task)
		res.delta[task.ID] = TaskInProgress
		claimed[task.Worker] = true
	}

	return res
}

// stuckTasks returns the IDs of every non-terminal task, in plan order.
// Non-empty when the run deadlocks.
func stuckTasks(p *plan.Plan, statuses map[string]TaskStatus) []string {
	var stuck []string
	for _, task := range p.Tasks() {
		if !statuses[task.ID].Terminal() {
			stuck = append(stuck, task.ID)
		}
	}
	return stuck
}
