package repository

import (
	"context"
	"time"

	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/booking"
	"gorm.io/gorm"
)

// GormAssignmentStore implements dispatch.Store with conditional UPDATEs in a
// single transaction. The ambulance row is always written first so that two
// transactions contending for the same vehicle serialize on its row lock.
type GormAssignmentStore struct {
	db *gorm.DB
}

var _ dispatch.Store = (*GormAssignmentStore)(nil)

// NewGormAssignmentStore creates a new GormAssignmentStore.
func NewGormAssignmentStore(db *gorm.DB) *GormAssignmentStore {
	return &GormAssignmentStore{db: db}
}

// CommitAssignment moves the ambulance available -> en_route and the booking
// pending -> assigned, or neither.
func (s *GormAssignmentStore) CommitAssignment(ctx context.Context, a dispatch.Assignment) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AmbulanceModel{}).
			Where("id = ? AND status = ?", a.AmbulanceID, string(ambulance.StatusAvailable)).
			Updates(map[string]interface{}{
				"status":     string(ambulance.StatusEnRoute),
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if err := affectedOne(res, dispatch.ErrAssignmentConflict); err != nil {
			return err
		}

		res = tx.Model(&BookingModel{}).
			Where("id = ? AND status = ?", a.BookingID, string(booking.StatusPending)).
			Updates(map[string]interface{}{
				"status":               string(booking.StatusAssigned),
				"ambulance_id":         a.AmbulanceID,
				"estimated_distance_m": a.Estimate.DistanceMeters,
				"estimated_duration_s": a.Estimate.DurationSeconds,
				"estimated_arrival_at": a.EstimatedArrival,
				"version":              gorm.Expr("version + 1"),
				"updated_at":           now,
			})
		return affectedOne(res, dispatch.ErrAssignmentConflict)
	})
}

// ApplyTransition writes each side of t conditioned on its From status.
func (s *GormAssignmentStore) ApplyTransition(ctx context.Context, t dispatch.Transition) error {
	at := t.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.HasAmbulance() {
			res := tx.Model(&AmbulanceModel{}).
				Where("id = ? AND status = ?", t.AmbulanceID, string(t.AmbulanceFrom)).
				Updates(map[string]interface{}{
					"status":     string(t.AmbulanceTo),
					"version":    gorm.Expr("version + 1"),
					"updated_at": at,
				})
			if err := affectedOne(res, dispatch.ErrStateConflict); err != nil {
				return err
			}
		}

		if !t.HasBooking() {
			return nil
		}

		updates := map[string]interface{}{
			"status":     string(t.BookingTo),
			"version":    gorm.Expr("version + 1"),
			"updated_at": at,
		}
		switch t.BookingTo {
		case booking.StatusEnRoute:
			updates["accepted_at"] = at
		case booking.StatusArrived:
			updates["arrived_at"] = at
		case booking.StatusCompleted:
			updates["completed_at"] = at
		case booking.StatusCancelled:
			updates["cancelled_at"] = at
			updates["cancel_reason"] = t.CancelReason
		}
		if t.ReleaseAmbulance {
			updates["ambulance_id"] = nil
			updates["estimated_distance_m"] = nil
			updates["estimated_duration_s"] = nil
			updates["estimated_arrival_at"] = nil
		}

		res := tx.Model(&BookingModel{}).
			Where("id = ? AND status = ?", t.BookingID, string(t.BookingFrom)).
			Updates(updates)
		return affectedOne(res, dispatch.ErrStateConflict)
	})
}

func affectedOne(res *gorm.DB, conflict error) error {
	if res.Error != nil {
		return dispatch.NewPersistenceError("update", res.Error)
	}
	if res.RowsAffected == 0 {
		return conflict
	}
	return nil
}

