package engine

import "fmt"

// ValidationError reports caller-supplied data that fails a precondition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// IllegalTransitionError reports a task status change that is not in the
// transition table. Both sides of the attempted move are kept so callers can
// explain the rejection.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal task status transition %s -> %s", e.From, e.To)
}
