package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	bookingDomain "github.com/rescuelink/service-dispatch/internal/domain/booking"
	"gorm.io/gorm"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Reference          string     `gorm:"uniqueIndex;not null;size:20"`
	RequesterID        *uuid.UUID `gorm:"type:uuid;index"`
	Status             string     `gorm:"not null;size:20;index"`
	EmergencyType      string     `gorm:"not null;size:20"`
	PatientName        string     `gorm:"not null;size:200"`
	PatientAge         *int       `gorm:""`
	PatientContact     string     `gorm:"not null;size:50"`
	MedicalNotes       string     `gorm:"size:2000"`
	PickupAddress      string     `gorm:"not null;size:500"`
	PickupLatitude     float64    `gorm:"not null"`
	PickupLongitude    float64    `gorm:"not null"`
	DropoffAddress     *string    `gorm:"size:500"`
	DropoffLatitude    *float64   `gorm:""`
	DropoffLongitude   *float64   `gorm:""`
	AmbulanceID        *uuid.UUID `gorm:"type:uuid;index"`
	EstimatedDistanceM *float64   `gorm:"column:estimated_distance_m"`
	EstimatedDurationS *float64   `gorm:"column:estimated_duration_s"`
	EstimatedArrivalAt *time.Time `gorm:""`
	DispatchAttempts   int        `gorm:"not null;default:0"`
	LastDispatchError  string     `gorm:"size:200"`
	LastDispatchAt     *time.Time `gorm:"index"`
	AcceptedAt         *time.Time `gorm:""`
	ArrivedAt          *time.Time `gorm:""`
	CompletedAt        *time.Time `gorm:""`
	CancelledAt        *time.Time `gorm:""`
	CancelReason       string     `gorm:"size:500"`
	Version            int64      `gorm:"not null;default:1"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByReference retrieves a booking by its reference.
func (r *GormBookingRepository) FindByReference(ctx context.Context, reference string) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", reference)
		}
		return nil, fmt.Errorf("failed to find booking by reference: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByRequesterID retrieves bookings filed by a user with pagination.
func (r *GormBookingRepository) FindByRequesterID(ctx context.Context, requesterID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Where("requester_id = ?", requesterID), page, limit)
}

// FindActiveByAmbulance returns the booking holding the ambulance.
func (r *GormBookingRepository) FindActiveByAmbulance(ctx context.Context, ambulanceID uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	err := r.db.WithContext(ctx).
		Where("ambulance_id = ? AND status IN ?", ambulanceID, activeStatusStrings()).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Active booking for ambulance", ambulanceID.String())
		}
		return nil, fmt.Errorf("failed to find active booking: %w", err)
	}
	return toDomainBooking(&model)
}

// ListAll retrieves bookings with pagination, optionally filtered by status.
func (r *GormBookingRepository) ListAll(ctx context.Context, status *bookingDomain.BookingStatus, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	q := r.db.WithContext(ctx)
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	return r.paginate(ctx, q, page, limit)
}

// CountByStatus returns booking counts grouped by status.
func (r *GormBookingRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// FindDispatchBacklog returns pending bookings due for another dispatch attempt.
func (r *GormBookingRepository) FindDispatchBacklog(ctx context.Context, before time.Time, maxAttempts, limit int) ([]*bookingDomain.Booking, error) {
	var models []BookingModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND dispatch_attempts < ? AND (last_dispatch_at IS NULL OR last_dispatch_at < ?)",
			string(bookingDomain.StatusPending), maxAttempts, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find dispatch backlog: %w", err)
	}
	return toDomainBookings(models)
}

// Save persists a new booking.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	if err := r.db.WithContext(ctx).Create(toBookingModel(bk)).Error; err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// RecordDispatchFailure increments the attempt counter while the booking is pending.
func (r *GormBookingRepository) RecordDispatchFailure(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND status = ?", id, string(bookingDomain.StatusPending)).
		Updates(map[string]interface{}{
			"dispatch_attempts":   gorm.Expr("dispatch_attempts + 1"),
			"last_dispatch_error": reason,
			"last_dispatch_at":    at,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record dispatch failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking is no longer pending")
	}
	return nil
}

func (r *GormBookingRepository) paginate(ctx context.Context, q *gorm.DB, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Model(&BookingModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	var models []BookingModel
	offset := (page - 1) * limit
	if err := q.Session(&gorm.Session{}).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func activeStatusStrings() []string {
	out := make([]string, len(bookingDomain.ActiveStatuses))
	for i, s := range bookingDomain.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.Booking) *BookingModel {
	s := bk.Snapshot()
	m := &BookingModel{
		ID:                s.ID,
		Reference:         s.Reference,
		RequesterID:       s.RequesterID,
		Status:            string(s.Status),
		EmergencyType:     string(s.EmergencyType),
		PatientName:       s.Patient.Name,
		PatientAge:        s.Patient.Age,
		PatientContact:    s.Patient.Contact,
		MedicalNotes:      s.Patient.MedicalNotes,
		PickupAddress:     s.Pickup.Address,
		PickupLatitude:    s.Pickup.Latitude,
		PickupLongitude:   s.Pickup.Longitude,
		AmbulanceID:       s.AmbulanceID,
		DispatchAttempts:  s.Dispatch.Attempts,
		LastDispatchError: s.Dispatch.LastError,
		LastDispatchAt:    s.Dispatch.LastAttemptAt,
		AcceptedAt:        s.AcceptedAt,
		ArrivedAt:         s.ArrivedAt,
		CompletedAt:       s.CompletedAt,
		CancelledAt:       s.CancelledAt,
		CancelReason:      s.CancelReason,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.Dropoff != nil {
		m.DropoffAddress = &s.Dropoff.Address
		m.DropoffLatitude = &s.Dropoff.Latitude
		m.DropoffLongitude = &s.Dropoff.Longitude
	}
	if s.RouteEstimate != nil {
		m.EstimatedDistanceM = &s.RouteEstimate.DistanceMeters
		m.EstimatedDurationS = &s.RouteEstimate.DurationSeconds
		m.EstimatedArrivalAt = &s.RouteEstimate.EstimatedArrival
	}
	return m
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}

	var dropoff *bookingDomain.Location
	if m.DropoffLatitude != nil && m.DropoffLongitude != nil {
		dropoff = &bookingDomain.Location{Latitude: *m.DropoffLatitude, Longitude: *m.DropoffLongitude}
		if m.DropoffAddress != nil {
			dropoff.Address = *m.DropoffAddress
		}
	}

	var estimate *bookingDomain.RouteEstimate
	if m.EstimatedDurationS != nil {
		estimate = &bookingDomain.RouteEstimate{DurationSeconds: *m.EstimatedDurationS}
		if m.EstimatedDistanceM != nil {
			estimate.DistanceMeters = *m.EstimatedDistanceM
		}
		if m.EstimatedArrivalAt != nil {
			estimate.EstimatedArrival = *m.EstimatedArrivalAt
		}
	}

	return bookingDomain.ReconstructBooking(bookingDomain.Snapshot{
		ID:            m.ID,
		Reference:     m.Reference,
		RequesterID:   m.RequesterID,
		Status:        status,
		EmergencyType: bookingDomain.EmergencyType(m.EmergencyType),
		Patient: bookingDomain.PatientDetails{
			Name:         m.PatientName,
			Age:          m.PatientAge,
			Contact:      m.PatientContact,
			MedicalNotes: m.MedicalNotes,
		},
		Pickup: bookingDomain.Location{
			Address:   m.PickupAddress,
			Latitude:  m.PickupLatitude,
			Longitude: m.PickupLongitude,
		},
		Dropoff:       dropoff,
		AmbulanceID:   m.AmbulanceID,
		RouteEstimate: estimate,
		Dispatch: bookingDomain.DispatchState{
			Attempts:      m.DispatchAttempts,
			LastError:     m.LastDispatchError,
			LastAttemptAt: m.LastDispatchAt,
		},
		AcceptedAt:   m.AcceptedAt,
		ArrivedAt:    m.ArrivedAt,
		CompletedAt:  m.CompletedAt,
		CancelledAt:  m.CancelledAt,
		CancelReason: m.CancelReason,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}), nil
}

func toDomainBookings(models []BookingModel) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}
