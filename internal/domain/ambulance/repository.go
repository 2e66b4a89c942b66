package ambulance

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists ambulance registrations. Status changes go through the
// assignment store so they stay conditional on the current status.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Ambulance, error)
	FindByDriverID(ctx context.Context, driverID uuid.UUID) (*Ambulance, error)
	FindByStatus(ctx context.Context, status Status) ([]*Ambulance, error)
	List(ctx context.Context, page, limit int) ([]*Ambulance, int64, error)
	Save(ctx context.Context, a *Ambulance) error
}
