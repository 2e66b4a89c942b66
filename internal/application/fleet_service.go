package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/events"
	"github.com/rescuelink/service-dispatch/internal/fleet"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"go.uber.org/zap"
)

// RegisterAmbulanceRequest holds the data needed to register a vehicle.
type RegisterAmbulanceRequest struct {
	VehicleNumber string     `json:"vehicle_number" binding:"required"`
	DriverID      *uuid.UUID `json:"driver_id"`
	DriverName    string     `json:"driver_name"`
	DriverContact string     `json:"driver_contact"`
}

// ReportPositionRequest is one GPS sample from a crew device.
type ReportPositionRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// FleetService manages ambulances, their availability and positions.
type FleetService struct {
	ambulances ambulance.Repository
	positions  tracking.Repository
	locator    *fleet.Locator
	committer  *dispatch.Committer
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewFleetService creates a new FleetService.
func NewFleetService(
	ambulances ambulance.Repository,
	positions tracking.Repository,
	locator *fleet.Locator,
	committer *dispatch.Committer,
	publisher EventPublisher,
	logger *zap.Logger,
) *FleetService {
	return &FleetService{
		ambulances: ambulances,
		positions:  positions,
		locator:    locator,
		committer:  committer,
		publisher:  publisher,
		logger:     logger,
	}
}

// RegisterAmbulance adds a vehicle to the fleet. It starts offline.
func (s *FleetService) RegisterAmbulance(ctx context.Context, req RegisterAmbulanceRequest) (*AmbulanceDTO, error) {
	a, err := ambulance.NewAmbulance(req.VehicleNumber, req.DriverID, req.DriverName, req.DriverContact)
	if err != nil {
		return nil, err
	}
	if err := s.ambulances.Save(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("ambulance registered",
		zap.String("ambulance_id", a.ID().String()),
		zap.String("vehicle_number", a.VehicleNumber()),
	)
	result := toAmbulanceDTO(a, nil)
	return &result, nil
}

// SetAvailability toggles a vehicle between available and offline. A vehicle
// returning from a job becomes available again through the same call.
func (s *FleetService) SetAvailability(ctx context.Context, actor Actor, ambulanceID uuid.UUID, available bool) (*AmbulanceDTO, error) {
	a, err := s.loadOperated(ctx, actor, ambulanceID)
	if err != nil {
		return nil, err
	}

	from := a.Status()
	to := ambulance.StatusOffline
	if available {
		to = ambulance.StatusAvailable
	}
	if from == to {
		result := toAmbulanceDTO(a, nil)
		return &result, nil
	}
	if from != ambulance.StatusAvailable && from != ambulance.StatusOffline && from != ambulance.StatusReturning {
		return nil, domain.NewInvalidStateError(string(from), string(to))
	}
	if err := a.TransitionTo(to); err != nil {
		return nil, err
	}

	err = s.committer.Apply(ctx, dispatch.Transition{
		Name:          "availability",
		AmbulanceID:   a.ID(),
		AmbulanceFrom: from,
		AmbulanceTo:   to,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrStateConflict) {
			return nil, domain.NewConflictError("ambulance status changed concurrently; reload and retry")
		}
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.TopicDispatchEvents, events.AmbulanceStatusChanged, a.ID().String(),
		events.AmbulanceStatusChangedEvent{
			AmbulanceID:   a.ID(),
			VehicleNumber: a.VehicleNumber(),
			From:          string(from),
			To:            string(to),
			OccurredAt:    time.Now().UTC(),
		})

	result := toAmbulanceDTO(a, nil)
	return &result, nil
}

// ReportPosition records a GPS sample from the crew's device.
func (s *FleetService) ReportPosition(ctx context.Context, actor Actor, ambulanceID uuid.UUID, req ReportPositionRequest) (*PositionDTO, error) {
	if _, err := s.loadOperated(ctx, actor, ambulanceID); err != nil {
		return nil, err
	}
	var at time.Time
	if req.RecordedAt != nil {
		at = *req.RecordedAt
	}
	return s.RecordPosition(ctx, ambulanceID, geo.Coordinates{Lat: req.Latitude, Lng: req.Longitude}, at)
}

// RecordPosition appends a sample for a registered ambulance. It is shared by
// the HTTP endpoint and the MQTT telemetry subscriber.
func (s *FleetService) RecordPosition(ctx context.Context, ambulanceID uuid.UUID, coords geo.Coordinates, recordedAt time.Time) (*PositionDTO, error) {
	p, err := tracking.NewPosition(ambulanceID, coords, recordedAt)
	if err != nil {
		return nil, err
	}
	if _, err := s.ambulances.FindByID(ctx, ambulanceID); err != nil {
		return nil, err
	}
	if err := s.positions.Append(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record position: %w", err)
	}
	return toPositionDTO(p), nil
}

// ListAmbulances returns the fleet with each vehicle's last known position.
func (s *FleetService) ListAmbulances(ctx context.Context, status string, page, limit int) (*domain.PaginatedResult[AmbulanceDTO], error) {
	var (
		fleetPage []*ambulance.Ambulance
		total     int64
		err       error
	)
	if status != "" {
		st, perr := ambulance.ParseStatus(strings.ToLower(status))
		if perr != nil {
			return nil, domain.NewValidationError(perr.Error())
		}
		fleetPage, err = s.ambulances.FindByStatus(ctx, st)
		total = int64(len(fleetPage))
		fleetPage = pageOf(fleetPage, page, limit)
	} else {
		fleetPage, total, err = s.ambulances.List(ctx, page, limit)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(fleetPage))
	for i, a := range fleetPage {
		ids[i] = a.ID()
	}
	positions, err := s.locator.Locate(ctx, ids)
	if err != nil {
		return nil, err
	}

	dtos := make([]AmbulanceDTO, len(fleetPage))
	for i, a := range fleetPage {
		var pos *tracking.Position
		if p, ok := positions[a.ID()]; ok {
			pos = &p
		}
		dtos[i] = toAmbulanceDTO(a, pos)
	}
	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// NearbyAvailable lists available ambulances within radiusKm of point by
// straight-line distance, nearest first.
func (s *FleetService) NearbyAvailable(ctx context.Context, point geo.Coordinates, radiusKm float64) ([]AmbulanceDTO, error) {
	if err := point.Validate(); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if radiusKm <= 0 {
		return nil, domain.NewValidationError("radius_km must be positive")
	}

	available, err := s.ambulances.FindByStatus(ctx, ambulance.StatusAvailable)
	if err != nil {
		return nil, err
	}
	nearby, err := s.locator.Nearby(ctx, point, radiusKm, available)
	if err != nil {
		return nil, err
	}

	dtos := make([]AmbulanceDTO, len(nearby))
	for i, n := range nearby {
		d := n.DistanceKm
		dtos[i] = toAmbulanceDTO(n.Ambulance, &n.Position)
		dtos[i].DistanceKm = &d
	}
	return dtos, nil
}

// GetMyAmbulance returns the vehicle the calling driver operates, with its
// last known position.
func (s *FleetService) GetMyAmbulance(ctx context.Context, actor Actor) (*AmbulanceDTO, error) {
	a, err := s.ambulances.FindByDriverID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	positions, err := s.locator.Locate(ctx, []uuid.UUID{a.ID()})
	if err != nil {
		return nil, err
	}

	var pos *tracking.Position
	if p, ok := positions[a.ID()]; ok {
		pos = &p
	}
	result := toAmbulanceDTO(a, pos)
	return &result, nil
}

// PositionHistory returns up to limit recent samples of a vehicle, newest first.
func (s *FleetService) PositionHistory(ctx context.Context, actor Actor, ambulanceID uuid.UUID, limit int) ([]PositionDTO, error) {
	if _, err := s.loadOperated(ctx, actor, ambulanceID); err != nil {
		return nil, err
	}
	history, err := s.positions.History(ctx, ambulanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load position history: %w", err)
	}

	dtos := make([]PositionDTO, len(history))
	for i, p := range history {
		dtos[i] = *toPositionDTO(p)
	}
	return dtos, nil
}

func (s *FleetService) loadOperated(ctx context.Context, actor Actor, ambulanceID uuid.UUID) (*ambulance.Ambulance, error) {
	a, err := s.ambulances.FindByID(ctx, ambulanceID)
	if err != nil {
		return nil, err
	}
	if !actor.isStaff() && !a.IsOperatedBy(actor.UserID) {
		return nil, domain.NewForbiddenError("ambulance is not operated by this user")
	}
	return a, nil
}

func pageOf[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
