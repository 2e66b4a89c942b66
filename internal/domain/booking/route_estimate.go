package booking

import "time"

// Location is a value object pairing a free-text address with coordinates.
type Location struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RouteEstimate is the routed distance and ETA recorded when an ambulance is assigned.
type RouteEstimate struct {
	DistanceMeters   float64   `json:"distance_meters"`
	DurationSeconds  float64   `json:"duration_seconds"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
}

// DispatchState tracks failed dispatch attempts while a booking is pending.
type DispatchState struct {
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}
