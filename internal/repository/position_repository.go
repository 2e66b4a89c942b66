package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"gorm.io/gorm"
)

// PositionModel is one GPS sample in the ambulance_positions table.
type PositionModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	AmbulanceID uuid.UUID `gorm:"type:uuid;not null;index:idx_positions_ambulance_recorded,priority:1"`
	Latitude    float64   `gorm:"not null"`
	Longitude   float64   `gorm:"not null"`
	RecordedAt  time.Time `gorm:"not null;index:idx_positions_ambulance_recorded,priority:2,sort:desc"`
}

// TableName returns the table name for the GORM model.
func (PositionModel) TableName() string {
	return "ambulance_positions"
}

// GormPositionRepository implements tracking.Repository.
type GormPositionRepository struct {
	db *gorm.DB
}

// NewGormPositionRepository creates a new GormPositionRepository.
func NewGormPositionRepository(db *gorm.DB) *GormPositionRepository {
	return &GormPositionRepository{db: db}
}

// Append stores a position sample.
func (r *GormPositionRepository) Append(ctx context.Context, p tracking.Position) error {
	model := PositionModel{
		ID:          p.ID,
		AmbulanceID: p.AmbulanceID,
		Latitude:    p.Coordinates.Lat,
		Longitude:   p.Coordinates.Lng,
		RecordedAt:  p.RecordedAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to append position: %w", err)
	}
	return nil
}

// LatestPositions returns the newest sample per ambulance using DISTINCT ON.
// Samples sharing a timestamp are broken by id so repeated reads agree.
func (r *GormPositionRepository) LatestPositions(ctx context.Context, ambulanceIDs []uuid.UUID) (map[uuid.UUID]tracking.Position, error) {
	out := make(map[uuid.UUID]tracking.Position, len(ambulanceIDs))
	if len(ambulanceIDs) == 0 {
		return out, nil
	}

	var models []PositionModel
	err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (ambulance_id) id, ambulance_id, latitude, longitude, recorded_at
		 FROM ambulance_positions
		 WHERE ambulance_id IN ?
		 ORDER BY ambulance_id, recorded_at DESC, id DESC`, ambulanceIDs).
		Scan(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest positions: %w", err)
	}

	for _, m := range models {
		out[m.AmbulanceID] = toDomainPosition(m)
	}
	return out, nil
}

// History returns the most recent samples of one ambulance, newest first.
func (r *GormPositionRepository) History(ctx context.Context, ambulanceID uuid.UUID, limit int) ([]tracking.Position, error) {
	var models []PositionModel
	if err := r.db.WithContext(ctx).
		Where("ambulance_id = ?", ambulanceID).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to load position history: %w", err)
	}

	out := make([]tracking.Position, len(models))
	for i, m := range models {
		out[i] = toDomainPosition(m)
	}
	return out, nil
}

func toDomainPosition(m PositionModel) tracking.Position {
	return tracking.Position{
		ID:          m.ID,
		AmbulanceID: m.AmbulanceID,
		Coordinates: geo.Coordinates{Lat: m.Latitude, Lng: m.Longitude},
		RecordedAt:  m.RecordedAt,
	}
}
