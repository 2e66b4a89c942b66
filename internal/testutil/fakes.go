package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/cloudevent"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
)

// RouteResult is a scripted routing response.
type RouteResult struct {
	Estimate routing.Estimate
	Err      error
	Delay    time.Duration
}

// FakeRouter answers by origin coordinates. Unscripted origins are unavailable.
type FakeRouter struct {
	mu      sync.Mutex
	results map[geo.Coordinates]RouteResult
	calls   atomic.Int64
}

func NewFakeRouter() *FakeRouter {
	return &FakeRouter{results: map[geo.Coordinates]RouteResult{}}
}

// Set scripts the result for routes starting at origin.
func (f *FakeRouter) Set(origin geo.Coordinates, r RouteResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[origin] = r
}

// Calls returns the number of Route invocations.
func (f *FakeRouter) Calls() int { return int(f.calls.Load()) }

func (f *FakeRouter) Route(ctx context.Context, origin, _ geo.Coordinates) (routing.Estimate, error) {
	f.calls.Add(1)
	f.mu.Lock()
	r, ok := f.results[origin]
	f.mu.Unlock()
	if !ok {
		return routing.Estimate{}, &routing.UnavailableError{Provider: "fake", Reason: "unscripted origin"}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return routing.Estimate{}, &routing.UnavailableError{Provider: "fake", Reason: "timeout", Err: ctx.Err()}
		}
	}
	return r.Estimate, r.Err
}

// RecordedEvent is one published event.
type RecordedEvent struct {
	Topic string
	Event cloudevent.CloudEvent
}

// RecordingPublisher captures published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []RecordedEvent
	Err    error
}

func (p *RecordingPublisher) PublishEvent(_ context.Context, topic string, event cloudevent.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, RecordedEvent{Topic: topic, Event: event})
	return p.Err
}

// Types returns the event types in publish order.
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event.Type
	}
	return out
}

// Events returns a copy of the recorded events.
func (p *RecordingPublisher) Events() []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedEvent(nil), p.events...)
}

// NewAmbulance builds an ambulance with a unique vehicle number.
func NewAmbulance(vehicleNumber string, driverID *uuid.UUID) *ambulance.Ambulance {
	a, err := ambulance.NewAmbulance(vehicleNumber, driverID, "Driver "+vehicleNumber, "+60100000000")
	if err != nil {
		panic(err)
	}
	return a
}

// SeedAmbulance registers an ambulance with status and, if coords is non-nil, a position.
func (s *MemoryStore) SeedAmbulance(vehicleNumber string, status ambulance.Status, coords *geo.Coordinates) *ambulance.Ambulance {
	a := s.AddAmbulance(NewAmbulance(vehicleNumber, nil), status)
	if coords != nil {
		p, err := tracking.NewPosition(a.ID(), *coords, time.Now().UTC())
		if err != nil {
			panic(err)
		}
		_ = s.Positions.Append(context.Background(), p)
	}
	return a
}

// SeedPendingBooking stores a new pending booking at pickup.
func (s *MemoryStore) SeedPendingBooking(pickup geo.Coordinates) *booking.Booking {
	bk, err := booking.NewBooking(nil, booking.EmergencyTrauma,
		booking.PatientDetails{Name: "Test Patient", Contact: "+60123456789"},
		booking.Location{Address: "Test Street 1", Latitude: pickup.Lat, Longitude: pickup.Lng}, nil)
	if err != nil {
		panic(err)
	}
	if err := s.Bookings.Save(context.Background(), bk); err != nil {
		panic(err)
	}
	return bk
}
