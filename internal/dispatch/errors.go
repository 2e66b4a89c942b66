package dispatch

import (
	"errors"
	"fmt"
)

// Outcomes of a dispatch attempt that leave the booking pending.
var (
	ErrNoCandidates        = errors.New("no available ambulances")
	ErrNoLocatedCandidates = errors.New("no available ambulance has a known position")
	ErrNoRouteFound        = errors.New("no route found to any available ambulance")

	// ErrAssignmentConflict means another dispatch changed the booking or the
	// ambulance between selection and commit.
	ErrAssignmentConflict = errors.New("assignment conflict")

	// ErrStateConflict means a lifecycle transition found a record in a
	// different status than the one it was read in.
	ErrStateConflict = errors.New("status changed concurrently")
)

// PersistenceError wraps a data-store failure. Nothing was written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("dispatch persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err unless it is already a PersistenceError.
func NewPersistenceError(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsRetriable reports whether a later attempt for the same booking may succeed.
func IsRetriable(err error) bool {
	var pe *PersistenceError
	return errors.Is(err, ErrNoCandidates) ||
		errors.Is(err, ErrNoLocatedCandidates) ||
		errors.Is(err, ErrNoRouteFound) ||
		errors.Is(err, ErrAssignmentConflict) ||
		errors.As(err, &pe)
}

// Reason returns a short machine-friendly label for err, used in metrics and
// on the booking's last_dispatch_error.
func Reason(err error) string {
	var pe *PersistenceError
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrNoLocatedCandidates):
		return "no_located_candidates"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route_found"
	case errors.Is(err, ErrAssignmentConflict):
		return "assignment_conflict"
	case errors.As(err, &pe):
		return "persistence_error"
	default:
		return "error"
	}
}
