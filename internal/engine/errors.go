package engine

import "fmt"

// InvalidTransitionError reports an operation attempted from a status that
// does not permit it.
type InvalidTransitionError struct {
	Op     string
	Status string
	Hint   string
}

func (e InvalidTransitionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("cannot %s commitment in status %s: %s", e.Op, e.Status, e.Hint)
	}
	return fmt.Sprintf("cannot %s commitment in status %s", e.Op, e.Status)
}

// ValidationError reports bad input naming the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError reports that a concurrent writer or duplicate submission won
// the race.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }
