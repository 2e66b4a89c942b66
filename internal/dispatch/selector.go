package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps in-flight routing calls per selection.
const DefaultConcurrency = 16

// Locator resolves ambulance positions; absent IDs are missing from the map.
type Locator interface {
	Locate(ctx context.Context, ambulanceIDs []uuid.UUID) (map[uuid.UUID]tracking.Position, error)
}

// Selection is the winning candidate of one selection.
type Selection struct {
	Ambulance *ambulance.Ambulance
	Position  tracking.Position
	Estimate  routing.Estimate
	// Located is the number of available candidates with a position.
	Located int
	// Routed is the number of those that produced a route.
	Routed int
}

// Selector picks the available ambulance with the shortest routed travel time.
type Selector struct {
	locator     Locator
	router      routing.Router
	concurrency int
	logger      *zap.Logger
}

// NewSelector creates a Selector. concurrency <= 0 uses DefaultConcurrency.
func NewSelector(locator Locator, router routing.Router, concurrency int, logger *zap.Logger) *Selector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Selector{
		locator:     locator,
		router:      router,
		concurrency: concurrency,
		logger:      logger,
	}
}

type routed struct {
	candidate *ambulance.Ambulance
	position  tracking.Position
	estimate  routing.Estimate
	ok        bool
}

// Select routes every located, available candidate to pickup in parallel and
// returns the one with the minimum duration. Ties go to the lowest ambulance
// ID so that the result does not depend on completion order. If ctx expires
// before the calls settle, the outstanding calls are abandoned and
// ErrNoRouteFound is returned.
func (s *Selector) Select(ctx context.Context, pickup geo.Coordinates, candidates []*ambulance.Ambulance) (*Selection, error) {
	start := time.Now()
	sel, err := s.selectVehicle(ctx, pickup, candidates)
	selectionLatency.Observe(time.Since(start).Seconds())
	selectionsTotal.WithLabelValues(Reason(err)).Inc()
	return sel, err
}

func (s *Selector) selectVehicle(ctx context.Context, pickup geo.Coordinates, candidates []*ambulance.Ambulance) (*Selection, error) {
	available := make([]*ambulance.Ambulance, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Status().IsDispatchable() {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil, ErrNoCandidates
	}

	ids := make([]uuid.UUID, len(available))
	for i, c := range available {
		ids[i] = c.ID()
	}
	positions, err := s.locator.Locate(ctx, ids)
	if err != nil {
		return nil, NewPersistenceError("locate candidates", err)
	}

	results := make([]routed, 0, len(available))
	for _, c := range available {
		if pos, ok := positions[c.ID()]; ok {
			results = append(results, routed{candidate: c, position: pos})
		}
	}
	if len(results) == 0 {
		return nil, ErrNoLocatedCandidates
	}

	// The fan-out runs behind done so that a provider ignoring cancellation
	// cannot hold the selection past the caller's deadline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i := range results {
			r := &results[i]
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				est, err := s.router.Route(ctx, r.position.Coordinates, pickup)
				if err != nil {
					routeRequestsTotal.WithLabelValues("unavailable").Inc()
					s.logger.Debug("candidate route unavailable",
						zap.String("ambulance_id", r.candidate.ID().String()),
						zap.Error(err),
					)
					return nil
				}
				routeRequestsTotal.WithLabelValues("ok").Inc()
				r.estimate = est
				r.ok = true
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoRouteFound, ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoRouteFound, err)
	}

	var best *routed
	routedCount := 0
	for i := range results {
		r := &results[i]
		if !r.ok {
			continue
		}
		routedCount++
		if best == nil || better(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNoRouteFound
	}

	return &Selection{
		Ambulance: best.candidate,
		Position:  best.position,
		Estimate:  best.estimate,
		Located:   len(results),
		Routed:    routedCount,
	}, nil
}

func better(candidate, best *routed) bool {
	if candidate.estimate.DurationSeconds != best.estimate.DurationSeconds {
		return candidate.estimate.DurationSeconds < best.estimate.DurationSeconds
	}
	return candidate.candidate.ID().String() < best.candidate.ID().String()
}

// IsSelectionFailure reports whether err is one of the "no usable vehicle" outcomes.
func IsSelectionFailure(err error) bool {
	return errors.Is(err, ErrNoCandidates) ||
		errors.Is(err, ErrNoLocatedCandidates) ||
		errors.Is(err, ErrNoRouteFound)
}
