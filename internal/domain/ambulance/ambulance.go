package ambulance

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
)

// Ambulance is a fleet vehicle and its crew contact details.
type Ambulance struct {
	id            uuid.UUID
	vehicleNumber string
	driverID      *uuid.UUID
	driverName    string
	driverContact string
	status        Status
	version       int64
	createdAt     time.Time
	updatedAt     time.Time
}

// NewAmbulance registers a vehicle. New vehicles start offline until the crew signs on.
func NewAmbulance(vehicleNumber string, driverID *uuid.UUID, driverName, driverContact string) (*Ambulance, error) {
	vehicleNumber = strings.ToUpper(strings.TrimSpace(vehicleNumber))
	if vehicleNumber == "" {
		return nil, domain.NewValidationError("vehicle number is required")
	}
	if strings.TrimSpace(driverName) == "" {
		return nil, domain.NewValidationError("driver name is required")
	}
	if strings.TrimSpace(driverContact) == "" {
		return nil, domain.NewValidationError("driver contact is required")
	}

	now := time.Now().UTC()
	return &Ambulance{
		id:            uuid.New(),
		vehicleNumber: vehicleNumber,
		driverID:      driverID,
		driverName:    driverName,
		driverContact: driverContact,
		status:        StatusOffline,
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// Reconstruct rebuilds an Ambulance from persistence data (no validation).
func Reconstruct(
	id uuid.UUID,
	vehicleNumber string,
	driverID *uuid.UUID,
	driverName, driverContact string,
	status Status,
	version int64,
	createdAt, updatedAt time.Time,
) *Ambulance {
	return &Ambulance{
		id:            id,
		vehicleNumber: vehicleNumber,
		driverID:      driverID,
		driverName:    driverName,
		driverContact: driverContact,
		status:        status,
		version:       version,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

func (a *Ambulance) ID() uuid.UUID         { return a.id }
func (a *Ambulance) VehicleNumber() string { return a.vehicleNumber }
func (a *Ambulance) DriverID() *uuid.UUID  { return a.driverID }
func (a *Ambulance) DriverName() string    { return a.driverName }
func (a *Ambulance) DriverContact() string { return a.driverContact }
func (a *Ambulance) Status() Status        { return a.status }
func (a *Ambulance) Version() int64        { return a.version }
func (a *Ambulance) CreatedAt() time.Time  { return a.createdAt }
func (a *Ambulance) UpdatedAt() time.Time  { return a.updatedAt }

// IsOperatedBy reports whether userID is the registered driver.
func (a *Ambulance) IsOperatedBy(userID uuid.UUID) bool {
	return a.driverID != nil && *a.driverID == userID
}

// TransitionTo validates and applies a status change in memory.
func (a *Ambulance) TransitionTo(target Status) error {
	if !a.status.CanTransitionTo(target) {
		return domain.NewInvalidStateError(string(a.status), string(target))
	}
	a.status = target
	a.updatedAt = time.Now().UTC()
	return nil
}
