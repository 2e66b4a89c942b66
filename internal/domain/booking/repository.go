package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookingRepository defines the persistence contract for booking aggregates.
// Status changes that involve an ambulance are not written here; they go
// through the assignment store's conditional transactions.
type BookingRepository interface {
	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByReference retrieves a booking by its human-readable reference.
	FindByReference(ctx context.Context, reference string) (*Booking, error)

	// FindByRequesterID retrieves bookings filed by a specific user with pagination.
	FindByRequesterID(ctx context.Context, requesterID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// FindActiveByAmbulance returns the booking currently holding the ambulance, if any.
	FindActiveByAmbulance(ctx context.Context, ambulanceID uuid.UUID) (*Booking, error)

	// ListAll retrieves bookings with pagination, optionally filtered by status.
	ListAll(ctx context.Context, status *BookingStatus, page, limit int) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status.
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// FindDispatchBacklog returns pending bookings whose last dispatch attempt is
	// older than before (or that were never attempted) and that have fewer than
	// maxAttempts attempts, oldest first.
	FindDispatchBacklog(ctx context.Context, before time.Time, maxAttempts, limit int) ([]*Booking, error)

	// Save persists a new booking.
	Save(ctx context.Context, booking *Booking) error

	// RecordDispatchFailure increments the attempt counter of a pending booking.
	// It is a no-op conflict if the booking is no longer pending.
	RecordDispatchFailure(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}
