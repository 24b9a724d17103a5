package engine

import "branchline/internal/domain"

// taskTransitions is the single source of truth for legal status moves.
// There is no terminal state: done and blocked tasks can be reopened.
var taskTransitions = map[string][]string{
	domain.TaskTodo:       {domain.TaskInProgress, domain.TaskBlocked},
	domain.TaskInProgress: {domain.TaskBlocked, domain.TaskDone, domain.TaskTodo},
	domain.TaskBlocked:    {domain.TaskInProgress, domain.TaskTodo},
	domain.TaskDone:       {domain.TaskInProgress},
}

// AllowedNext returns the selectable next statuses for a task in the given
// status, in table order. Clients use this to hide unavailable options; the
// engine still validates every request.
func AllowedNext(status string) []string {
	next := taskTransitions[status]
	out := make([]string, len(next))
	copy(out, next)
	return out
}

func ensureTaskTransition(from, to string) error {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return IllegalTransitionError{From: from, To: to}
}

func validTaskStatus(status string) bool {
	switch status {
	case domain.TaskTodo, domain.TaskInProgress, domain.TaskBlocked, domain.TaskDone:
		return true
	}
	return false
}

func validProjectStatus(status string) bool {
	switch status {
	case domain.ProjectPlanned, domain.ProjectInProgress, domain.ProjectOnHold, domain.ProjectCompleted, domain.ProjectCancelled:
		return true
	}
	return false
}
