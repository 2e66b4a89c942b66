package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/rescuelink/service-dispatch/internal/geo"
	"googlemaps.github.io/maps"
)

const googleProvider = "google"

// GoogleRouter uses the Google Maps Directions API.
type GoogleRouter struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleRouter creates a GoogleRouter. Extra client options (such as
// maps.WithBaseURL) are applied after the API key.
func NewGoogleRouter(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*GoogleRouter, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleRouter{client: client, timeout: timeout}, nil
}

// Route returns the first leg of the first driving route.
func (g *GoogleRouter) Route(ctx context.Context, origin, destination geo.Coordinates) (Estimate, error) {
	if err := validatePair(googleProvider, origin, destination); err != nil {
		return Estimate{}, err
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return Estimate{}, unavailable(googleProvider, "directions request failed", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, unavailable(googleProvider, "no routes", nil)
	}

	leg := routes[0].Legs[0]
	return Estimate{
		DistanceMeters:  float64(leg.Distance.Meters),
		DurationSeconds: leg.Duration.Seconds(),
	}, nil
}
