package application

import (
	"context"

	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"go.uber.org/zap"
)

// RouteDTO is a point-to-point road estimate.
type RouteDTO struct {
	Origin          LocationPointDTO `json:"origin"`
	Destination     LocationPointDTO `json:"destination"`
	DistanceMeters  float64          `json:"distance_meters"`
	DurationSeconds float64          `json:"duration_seconds"`
}

// LocationPointDTO is a bare coordinate pair.
type LocationPointDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RouteService answers ad-hoc route lookups for the dispatch console using
// the same provider the selector ranks candidates with.
type RouteService struct {
	router routing.Router
	logger *zap.Logger
}

// NewRouteService creates a new RouteService.
func NewRouteService(router routing.Router, logger *zap.Logger) *RouteService {
	return &RouteService{router: router, logger: logger}
}

// Estimate routes from origin to destination. A provider failure is returned
// as-is and matches routing.ErrUnavailable.
func (s *RouteService) Estimate(ctx context.Context, origin, destination geo.Coordinates) (*RouteDTO, error) {
	if err := origin.Validate(); err != nil {
		return nil, domain.NewValidationError("origin: " + err.Error())
	}
	if err := destination.Validate(); err != nil {
		return nil, domain.NewValidationError("destination: " + err.Error())
	}

	est, err := s.router.Route(ctx, origin, destination)
	if err != nil {
		s.logger.Warn("route lookup failed",
			zap.String("origin", origin.String()),
			zap.String("destination", destination.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return &RouteDTO{
		Origin:          LocationPointDTO{Latitude: origin.Lat, Longitude: origin.Lng},
		Destination:     LocationPointDTO{Latitude: destination.Lat, Longitude: destination.Lng},
		DistanceMeters:  est.DistanceMeters,
		DurationSeconds: est.DurationSeconds,
	}, nil
}
