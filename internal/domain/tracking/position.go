// Package tracking models the append-only GPS samples reported by ambulances.
package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/geo"
)

// Position is one GPS sample. Samples are never updated, only superseded.
type Position struct {
	ID          uuid.UUID
	AmbulanceID uuid.UUID
	Coordinates geo.Coordinates
	RecordedAt  time.Time
}

// NewPosition validates a sample. A zero recordedAt is replaced with now.
func NewPosition(ambulanceID uuid.UUID, coords geo.Coordinates, recordedAt time.Time) (Position, error) {
	if ambulanceID == uuid.Nil {
		return Position{}, domain.NewValidationError("ambulance ID is required")
	}
	if err := coords.Validate(); err != nil {
		return Position{}, domain.NewValidationError(err.Error())
	}
	now := time.Now().UTC()
	if recordedAt.IsZero() {
		recordedAt = now
	}
	if recordedAt.After(now.Add(time.Minute)) {
		return Position{}, domain.NewValidationError("recorded_at is in the future")
	}
	return Position{
		ID:          uuid.New(),
		AmbulanceID: ambulanceID,
		Coordinates: coords,
		RecordedAt:  recordedAt.UTC(),
	}, nil
}

// Repository stores position samples.
type Repository interface {
	Append(ctx context.Context, p Position) error
	// LatestPositions returns the most recent sample per ambulance; ambulances
	// without samples are absent from the map.
	LatestPositions(ctx context.Context, ambulanceIDs []uuid.UUID) (map[uuid.UUID]Position, error)
	// History returns samples for one ambulance, most recent first.
	History(ctx context.Context, ambulanceID uuid.UUID, limit int) ([]Position, error)
}
