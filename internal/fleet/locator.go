// Package fleet resolves where ambulances are.
package fleet

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
)

// PositionReader is the subset of tracking.Repository the locator needs.
type PositionReader interface {
	LatestPositions(ctx context.Context, ambulanceIDs []uuid.UUID) (map[uuid.UUID]tracking.Position, error)
}

// Locator returns the latest known position of each requested ambulance.
type Locator struct {
	positions PositionReader
	maxAge    time.Duration
	now       func() time.Time
}

// NewLocator creates a Locator. A positive maxAge treats older samples as absent.
func NewLocator(positions PositionReader, maxAge time.Duration) *Locator {
	return &Locator{
		positions: positions,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Locate returns a position for every ambulance that has one. Ambulances
// without a usable sample are simply missing from the result; the error is
// reserved for failures of the read itself.
func (l *Locator) Locate(ctx context.Context, ambulanceIDs []uuid.UUID) (map[uuid.UUID]tracking.Position, error) {
	if len(ambulanceIDs) == 0 {
		return map[uuid.UUID]tracking.Position{}, nil
	}

	latest, err := l.positions.LatestPositions(ctx, dedupe(ambulanceIDs))
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]tracking.Position, len(latest))
	cutoff := l.now().Add(-l.maxAge)
	for id, pos := range latest {
		if l.maxAge > 0 && pos.RecordedAt.Before(cutoff) {
			continue
		}
		out[id] = pos
	}
	return out, nil
}

// NearbyAmbulance is an ambulance with its straight-line distance from a point.
type NearbyAmbulance struct {
	Ambulance  *ambulance.Ambulance
	Position   tracking.Position
	DistanceKm float64
}

// Nearby returns the given ambulances located within radiusKm of point,
// nearest first. It is a map heuristic only; dispatch ranks by routed duration.
func (l *Locator) Nearby(ctx context.Context, point geo.Coordinates, radiusKm float64, fleet []*ambulance.Ambulance) ([]NearbyAmbulance, error) {
	ids := make([]uuid.UUID, len(fleet))
	for i, a := range fleet {
		ids[i] = a.ID()
	}

	positions, err := l.Locate(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []NearbyAmbulance
	for _, a := range fleet {
		pos, ok := positions[a.ID()]
		if !ok {
			continue
		}
		if !geo.WithinRadiusKm(point, pos.Coordinates, radiusKm) {
			continue
		}
		out = append(out, NearbyAmbulance{Ambulance: a, Position: pos, DistanceKm: geo.DistanceKm(point, pos.Coordinates)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Ambulance.ID().String() < out[j].Ambulance.ID().String()
	})
	return out, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
