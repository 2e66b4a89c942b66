// Package events defines the topics, CloudEvent types and payloads the
// dispatch service publishes and consumes.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Source is the CloudEvent source of everything this service publishes.
const Source = "service-dispatch"

// Topics.
const (
	TopicDispatchEvents   = "dispatch.events"
	TopicDispatchCommands = "dispatch.commands"
)

// Event types on TopicDispatchEvents.
const (
	BookingCreated         = "booking.created"
	BookingAssigned        = "booking.assigned"
	BookingDispatchFailed  = "booking.dispatch_failed"
	BookingAccepted        = "booking.accepted"
	BookingDeclined        = "booking.declined"
	BookingArrived         = "booking.arrived"
	BookingCompleted       = "booking.completed"
	BookingCancelled       = "booking.cancelled"
	AmbulanceStatusChanged = "ambulance.status_changed"
)

// DispatchRequested is consumed from TopicDispatchCommands.
const DispatchRequested = "dispatch.requested"

// BookingCreatedEvent is published when an emergency booking is filed.
type BookingCreatedEvent struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	Reference     string     `json:"reference"`
	RequesterID   *uuid.UUID `json:"requester_id,omitempty"`
	EmergencyType string     `json:"emergency_type"`
	PickupLat     float64    `json:"pickup_lat"`
	PickupLng     float64    `json:"pickup_lng"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// BookingAssignedEvent is published after an assignment commits.
type BookingAssignedEvent struct {
	BookingID        uuid.UUID `json:"booking_id"`
	Reference        string    `json:"reference"`
	AmbulanceID      uuid.UUID `json:"ambulance_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	DistanceMeters   float64   `json:"distance_meters"`
	DurationSeconds  float64   `json:"duration_seconds"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// DispatchFailedEvent is published when an attempt leaves the booking pending.
type DispatchFailedEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	Reference  string    `json:"reference"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BookingStatusEvent covers the crew and operator lifecycle events.
type BookingStatusEvent struct {
	BookingID   uuid.UUID  `json:"booking_id"`
	Reference   string     `json:"reference"`
	AmbulanceID *uuid.UUID `json:"ambulance_id,omitempty"`
	Status      string     `json:"status"`
	ActorID     *uuid.UUID `json:"actor_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// AmbulanceStatusChangedEvent is published on availability changes.
type AmbulanceStatusChangedEvent struct {
	AmbulanceID   uuid.UUID `json:"ambulance_id"`
	VehicleNumber string    `json:"vehicle_number"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DispatchRequestedEvent asks the service to run a dispatch attempt.
type DispatchRequestedEvent struct {
	BookingID   uuid.UUID `json:"booking_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
}
