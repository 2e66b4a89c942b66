package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/geo"
)

const referenceChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Booking is the aggregate root for an emergency ambulance request.
type Booking struct {
	id            uuid.UUID
	reference     string
	requesterID   *uuid.UUID
	status        BookingStatus
	emergencyType EmergencyType
	patient       PatientDetails
	pickup        Location
	dropoff       *Location

	ambulanceID   *uuid.UUID
	routeEstimate *RouteEstimate
	dispatch      DispatchState

	acceptedAt   *time.Time
	arrivedAt    *time.Time
	completedAt  *time.Time
	cancelledAt  *time.Time
	cancelReason string

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// generateReference creates a booking reference in the format "EM-XXXXXX".
func generateReference() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		result[i] = referenceChars[n.Int64()]
	}
	return "EM-" + string(result), nil
}

// NewBooking creates a new Booking aggregate with status=pending.
// requesterID is nil for bookings filed on someone's behalf by a dispatcher.
func NewBooking(
	requesterID *uuid.UUID,
	emergencyType EmergencyType,
	patient PatientDetails,
	pickup Location,
	dropoff *Location,
) (*Booking, error) {
	if !emergencyType.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid emergency type: %s", emergencyType))
	}
	if strings.TrimSpace(patient.Name) == "" {
		return nil, domain.NewValidationError("patient name is required")
	}
	if strings.TrimSpace(patient.Contact) == "" {
		return nil, domain.NewValidationError("patient contact is required")
	}
	if patient.Age != nil && (*patient.Age < 0 || *patient.Age > 150) {
		return nil, domain.NewValidationError("patient age must be between 0 and 150")
	}
	if strings.TrimSpace(pickup.Address) == "" {
		return nil, domain.NewValidationError("pickup address is required")
	}
	if err := pickup.Coordinates().Validate(); err != nil {
		return nil, domain.NewValidationError("pickup " + err.Error())
	}
	if dropoff != nil {
		if err := dropoff.Coordinates().Validate(); err != nil {
			return nil, domain.NewValidationError("dropoff " + err.Error())
		}
	}

	reference, err := generateReference()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Booking{
		id:            uuid.New(),
		reference:     reference,
		requesterID:   requesterID,
		status:        StatusPending,
		emergencyType: emergencyType,
		patient:       patient,
		pickup:        pickup,
		dropoff:       dropoff,
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// Snapshot carries every persisted field of a Booking.
type Snapshot struct {
	ID            uuid.UUID
	Reference     string
	RequesterID   *uuid.UUID
	Status        BookingStatus
	EmergencyType EmergencyType
	Patient       PatientDetails
	Pickup        Location
	Dropoff       *Location
	AmbulanceID   *uuid.UUID
	RouteEstimate *RouteEstimate
	Dispatch      DispatchState
	AcceptedAt    *time.Time
	ArrivedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(s Snapshot) *Booking {
	return &Booking{
		id:            s.ID,
		reference:     s.Reference,
		requesterID:   s.RequesterID,
		status:        s.Status,
		emergencyType: s.EmergencyType,
		patient:       s.Patient,
		pickup:        s.Pickup,
		dropoff:       s.Dropoff,
		ambulanceID:   s.AmbulanceID,
		routeEstimate: s.RouteEstimate,
		dispatch:      s.Dispatch,
		acceptedAt:    s.AcceptedAt,
		arrivedAt:     s.ArrivedAt,
		completedAt:   s.CompletedAt,
		cancelledAt:   s.CancelledAt,
		cancelReason:  s.CancelReason,
		version:       s.Version,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
	}
}

// Snapshot returns a copy of the booking's persisted fields.
func (b *Booking) Snapshot() Snapshot {
	return Snapshot{
		ID:            b.id,
		Reference:     b.reference,
		RequesterID:   b.requesterID,
		Status:        b.status,
		EmergencyType: b.emergencyType,
		Patient:       b.patient,
		Pickup:        b.pickup,
		Dropoff:       b.dropoff,
		AmbulanceID:   b.ambulanceID,
		RouteEstimate: b.routeEstimate,
		Dispatch:      b.dispatch,
		AcceptedAt:    b.acceptedAt,
		ArrivedAt:     b.arrivedAt,
		CompletedAt:   b.completedAt,
		CancelledAt:   b.cancelledAt,
		CancelReason:  b.cancelReason,
		Version:       b.version,
		CreatedAt:     b.createdAt,
		UpdatedAt:     b.updatedAt,
	}
}

// --- Getters ---

func (b *Booking) ID() uuid.UUID                { return b.id }
func (b *Booking) Reference() string            { return b.reference }
func (b *Booking) RequesterID() *uuid.UUID      { return b.requesterID }
func (b *Booking) Status() BookingStatus        { return b.status }
func (b *Booking) EmergencyType() EmergencyType { return b.emergencyType }
func (b *Booking) Patient() PatientDetails      { return b.patient }
func (b *Booking) Pickup() Location             { return b.pickup }
func (b *Booking) Dropoff() *Location           { return b.dropoff }

// AmbulanceID returns the assigned ambulance, or nil while pending.
func (b *Booking) AmbulanceID() *uuid.UUID { return b.ambulanceID }

// RouteEstimate returns the estimate recorded at assignment, or nil.
func (b *Booking) RouteEstimate() *RouteEstimate { return b.routeEstimate }

// Dispatch returns the failed-attempt bookkeeping.
func (b *Booking) Dispatch() DispatchState { return b.dispatch }

func (b *Booking) AcceptedAt() *time.Time  { return b.acceptedAt }
func (b *Booking) ArrivedAt() *time.Time   { return b.arrivedAt }
func (b *Booking) CompletedAt() *time.Time { return b.completedAt }
func (b *Booking) CancelledAt() *time.Time { return b.cancelledAt }
func (b *Booking) CancelReason() string    { return b.cancelReason }
func (b *Booking) Version() int64          { return b.version }
func (b *Booking) CreatedAt() time.Time    { return b.createdAt }
func (b *Booking) UpdatedAt() time.Time    { return b.updatedAt }

// Coordinates returns the pickup point as geo coordinates.
func (l Location) Coordinates() geo.Coordinates {
	return geo.Coordinates{Lat: l.Latitude, Lng: l.Longitude}
}

// --- Behavior ---
// These methods validate and apply a transition in memory. Persistence of
// ambulance-linked transitions is done by the assignment store, which repeats
// the precondition as a conditional update.

// Assign transitions pending -> assigned with the selected ambulance.
func (b *Booking) Assign(ambulanceID uuid.UUID, estimate RouteEstimate) error {
	if !b.status.CanTransitionTo(StatusAssigned) {
		return domain.NewInvalidStateError(string(b.status), string(StatusAssigned))
	}
	if ambulanceID == uuid.Nil {
		return domain.NewValidationError("ambulance ID is required")
	}
	b.ambulanceID = &ambulanceID
	b.routeEstimate = &estimate
	b.status = StatusAssigned
	b.touch()
	return nil
}

// Accept transitions assigned -> en_route when the crew acknowledges.
func (b *Booking) Accept() error {
	if err := b.transition(StatusEnRoute); err != nil {
		return err
	}
	b.acceptedAt = b.stamp()
	return nil
}

// Requeue transitions assigned -> pending and releases the ambulance.
func (b *Booking) Requeue() error {
	if err := b.transition(StatusPending); err != nil {
		return err
	}
	b.ambulanceID = nil
	b.routeEstimate = nil
	return nil
}

// MarkArrived transitions en_route -> arrived.
func (b *Booking) MarkArrived() error {
	if err := b.transition(StatusArrived); err != nil {
		return err
	}
	b.arrivedAt = b.stamp()
	return nil
}

// Complete transitions arrived -> completed.
func (b *Booking) Complete() error {
	if err := b.transition(StatusCompleted); err != nil {
		return err
	}
	b.completedAt = b.stamp()
	return nil
}

// Cancel transitions to cancelled if the booking is not past en_route.
func (b *Booking) Cancel(reason string) error {
	if !b.status.CanBeCancelled() {
		return domain.NewInvalidStateError(string(b.status), string(StatusCancelled))
	}
	b.status = StatusCancelled
	b.cancelReason = reason
	b.touch()
	b.cancelledAt = b.stamp()
	return nil
}

// RecordDispatchFailure notes a failed attempt; only valid while pending.
func (b *Booking) RecordDispatchFailure(reason string, at time.Time) error {
	if b.status != StatusPending {
		return domain.NewInvalidStateError(string(b.status), string(StatusPending))
	}
	b.dispatch.Attempts++
	b.dispatch.LastError = reason
	b.dispatch.LastAttemptAt = &at
	b.updatedAt = at
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.version++
	b.touch()
}

func (b *Booking) transition(target BookingStatus) error {
	if !b.status.CanTransitionTo(target) {
		return domain.NewInvalidStateError(string(b.status), string(target))
	}
	b.status = target
	b.touch()
	return nil
}

func (b *Booking) touch() {
	b.updatedAt = time.Now().UTC()
}

func (b *Booking) stamp() *time.Time {
	t := b.updatedAt
	return &t
}
