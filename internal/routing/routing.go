// Package routing turns an origin/destination pair into a road travel
// estimate. Provider failures are values, not exceptional control flow: every
// failure is an *UnavailableError and callers are expected to drop the
// candidate rather than abort.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rescuelink/service-dispatch/internal/geo"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 2 * time.Second

// ErrUnavailable matches every routing failure via errors.Is.
var ErrUnavailable = errors.New("route unavailable")

// Estimate is the routed distance and travel time between two points.
type Estimate struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Duration returns DurationSeconds as a time.Duration.
func (e Estimate) Duration() time.Duration {
	return time.Duration(e.DurationSeconds * float64(time.Second))
}

// Router computes a travel estimate from origin to destination.
type Router interface {
	Route(ctx context.Context, origin, destination geo.Coordinates) (Estimate, error)
}

// UnavailableError reports why a provider could not produce a route.
type UnavailableError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: route unavailable: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: route unavailable: %s", e.Provider, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(provider, reason string, err error) error {
	return &UnavailableError{Provider: provider, Reason: reason, Err: err}
}

func validatePair(provider string, origin, destination geo.Coordinates) error {
	if err := origin.Validate(); err != nil {
		return unavailable(provider, "invalid origin", err)
	}
	if err := destination.Validate(); err != nil {
		return unavailable(provider, "invalid destination", err)
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
