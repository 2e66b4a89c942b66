package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"gorm.io/gorm"
)

// AmbulanceModel is the GORM model for the ambulances table.
type AmbulanceModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	VehicleNumber string     `gorm:"uniqueIndex;not null;size:20"`
	DriverID      *uuid.UUID `gorm:"type:uuid;index"`
	DriverName    string     `gorm:"size:200"`
	DriverContact string     `gorm:"size:50"`
	Status        string     `gorm:"not null;size:20;index"`
	Version       int64      `gorm:"not null;default:1"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (AmbulanceModel) TableName() string {
	return "ambulances"
}

// GormAmbulanceRepository implements ambulance.Repository.
type GormAmbulanceRepository struct {
	db *gorm.DB
}

// NewGormAmbulanceRepository creates a new GormAmbulanceRepository.
func NewGormAmbulanceRepository(db *gorm.DB) *GormAmbulanceRepository {
	return &GormAmbulanceRepository{db: db}
}

func (r *GormAmbulanceRepository) FindByID(ctx context.Context, id uuid.UUID) (*ambulance.Ambulance, error) {
	var model AmbulanceModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Ambulance", id.String())
		}
		return nil, fmt.Errorf("failed to find ambulance by ID: %w", err)
	}
	return toDomainAmbulance(&model)
}

func (r *GormAmbulanceRepository) FindByDriverID(ctx context.Context, driverID uuid.UUID) (*ambulance.Ambulance, error) {
	var model AmbulanceModel
	if err := r.db.WithContext(ctx).Where("driver_id = ?", driverID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Ambulance for driver", driverID.String())
		}
		return nil, fmt.Errorf("failed to find ambulance by driver: %w", err)
	}
	return toDomainAmbulance(&model)
}

// FindByStatus returns every ambulance currently in status, ordered by ID.
func (r *GormAmbulanceRepository) FindByStatus(ctx context.Context, status ambulance.Status) ([]*ambulance.Ambulance, error) {
	var models []AmbulanceModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find ambulances by status: %w", err)
	}
	return toDomainAmbulances(models)
}

func (r *GormAmbulanceRepository) List(ctx context.Context, page, limit int) ([]*ambulance.Ambulance, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&AmbulanceModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ambulances: %w", err)
	}

	var models []AmbulanceModel
	if err := r.db.WithContext(ctx).
		Order("vehicle_number ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list ambulances: %w", err)
	}

	out, err := toDomainAmbulances(models)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Save inserts a newly registered ambulance.
func (r *GormAmbulanceRepository) Save(ctx context.Context, a *ambulance.Ambulance) error {
	if err := r.db.WithContext(ctx).Create(toAmbulanceModel(a)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError(fmt.Sprintf("vehicle %s is already registered", a.VehicleNumber()))
		}
		return fmt.Errorf("failed to save ambulance: %w", err)
	}
	return nil
}

func toAmbulanceModel(a *ambulance.Ambulance) *AmbulanceModel {
	return &AmbulanceModel{
		ID:            a.ID(),
		VehicleNumber: a.VehicleNumber(),
		DriverID:      a.DriverID(),
		DriverName:    a.DriverName(),
		DriverContact: a.DriverContact(),
		Status:        string(a.Status()),
		Version:       a.Version(),
		CreatedAt:     a.CreatedAt(),
		UpdatedAt:     a.UpdatedAt(),
	}
}

func toDomainAmbulance(m *AmbulanceModel) (*ambulance.Ambulance, error) {
	status, err := ambulance.ParseStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return ambulance.Reconstruct(m.ID, m.VehicleNumber, m.DriverID, m.DriverName, m.DriverContact,
		status, m.Version, m.CreatedAt, m.UpdatedAt), nil
}

func toDomainAmbulances(models []AmbulanceModel) ([]*ambulance.Ambulance, error) {
	out := make([]*ambulance.Ambulance, len(models))
	for i := range models {
		a, err := toDomainAmbulance(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
