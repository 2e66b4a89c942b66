package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"go.uber.org/zap"
)

// Assignment reserves an ambulance for a pending booking.
type Assignment struct {
	BookingID        uuid.UUID
	AmbulanceID      uuid.UUID
	Estimate         routing.Estimate
	EstimatedArrival time.Time
}

// Transition is a conditional status change of a booking, an ambulance, or
// both. Each side present is applied only if the record is still in its From
// status; otherwise nothing is applied.
type Transition struct {
	Name string

	BookingID   uuid.UUID
	BookingFrom booking.BookingStatus
	BookingTo   booking.BookingStatus
	// ReleaseAmbulance clears the booking's ambulance and estimate.
	ReleaseAmbulance bool
	CancelReason     string

	AmbulanceID   uuid.UUID
	AmbulanceFrom ambulance.Status
	AmbulanceTo   ambulance.Status

	At time.Time
}

// HasBooking reports whether the transition moves a booking.
func (t Transition) HasBooking() bool { return t.BookingID != uuid.Nil }

// HasAmbulance reports whether the transition moves an ambulance.
func (t Transition) HasAmbulance() bool { return t.AmbulanceID != uuid.Nil }

// Store performs the conditional writes. Implementations must apply every
// side of a call atomically and report a failed precondition with
// ErrAssignmentConflict (CommitAssignment) or ErrStateConflict (ApplyTransition).
type Store interface {
	CommitAssignment(ctx context.Context, a Assignment) error
	ApplyTransition(ctx context.Context, t Transition) error
}

// Committer is the single writer of booking and ambulance status.
type Committer struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewCommitter creates a Committer over store.
func NewCommitter(store Store, logger *zap.Logger) *Committer {
	return &Committer{store: store, logger: logger, now: time.Now}
}

// Commit moves the booking pending -> assigned and the ambulance
// available -> en_route together. It returns nil when committed,
// ErrAssignmentConflict when either precondition no longer holds, and a
// *PersistenceError on storage failure. In both failure cases neither record
// has changed.
func (c *Committer) Commit(ctx context.Context, a Assignment) error {
	if a.BookingID == uuid.Nil || a.AmbulanceID == uuid.Nil {
		return fmt.Errorf("commit assignment: booking and ambulance IDs are required")
	}
	if a.EstimatedArrival.IsZero() {
		a.EstimatedArrival = c.now().UTC().Add(a.Estimate.Duration())
	}

	err := c.store.CommitAssignment(ctx, a)
	switch {
	case err == nil:
		commitsTotal.WithLabelValues("assignment", "committed").Inc()
		assignedETASeconds.Observe(a.Estimate.DurationSeconds)
		c.logger.Info("assignment committed",
			zap.String("booking_id", a.BookingID.String()),
			zap.String("ambulance_id", a.AmbulanceID.String()),
			zap.Float64("eta_seconds", a.Estimate.DurationSeconds),
		)
		return nil
	case errors.Is(err, ErrAssignmentConflict):
		commitsTotal.WithLabelValues("assignment", "conflict").Inc()
		return ErrAssignmentConflict
	default:
		commitsTotal.WithLabelValues("assignment", "error").Inc()
		return NewPersistenceError("commit assignment", err)
	}
}

// Apply validates t against both state machines and writes it conditionally.
func (c *Committer) Apply(ctx context.Context, t Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}
	if t.At.IsZero() {
		t.At = c.now().UTC()
	}

	err := c.store.ApplyTransition(ctx, t)
	switch {
	case err == nil:
		commitsTotal.WithLabelValues(t.Name, "committed").Inc()
		return nil
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrAssignmentConflict):
		commitsTotal.WithLabelValues(t.Name, "conflict").Inc()
		return ErrStateConflict
	default:
		commitsTotal.WithLabelValues(t.Name, "error").Inc()
		return NewPersistenceError(t.Name, err)
	}
}

func validateTransition(t Transition) error {
	if t.Name == "" {
		return fmt.Errorf("transition name is required")
	}
	if !t.HasBooking() && !t.HasAmbulance() {
		return fmt.Errorf("%s: transition has no booking or ambulance", t.Name)
	}
	if t.HasBooking() && !t.BookingFrom.CanTransitionTo(t.BookingTo) {
		return fmt.Errorf("%s: booking cannot move from %s to %s", t.Name, t.BookingFrom, t.BookingTo)
	}
	if t.HasAmbulance() && !t.AmbulanceFrom.CanTransitionTo(t.AmbulanceTo) {
		return fmt.Errorf("%s: ambulance cannot move from %s to %s", t.Name, t.AmbulanceFrom, t.AmbulanceTo)
	}
	if t.HasBooking() && t.BookingTo == booking.StatusAssigned {
		return fmt.Errorf("%s: use Commit to assign an ambulance", t.Name)
	}
	return nil
}
