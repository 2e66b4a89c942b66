// Package testutil provides in-memory implementations of the repositories and
// the assignment store for unit tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
)

// MemoryStore holds bookings, ambulances and positions behind one mutex so
// that CommitAssignment and ApplyTransition are atomic like a DB transaction.
type MemoryStore struct {
	mu         sync.Mutex
	bookings   map[uuid.UUID]booking.Snapshot
	ambulances map[uuid.UUID]*ambulance.Ambulance
	positions  []tracking.Position

	// FailNext, when set, is returned by the next store call and then cleared.
	FailNext error

	Bookings   *MemoryBookings
	Ambulances *MemoryAmbulances
	Positions  *MemoryPositions
}

var _ dispatch.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		bookings:   map[uuid.UUID]booking.Snapshot{},
		ambulances: map[uuid.UUID]*ambulance.Ambulance{},
	}
	s.Bookings = &MemoryBookings{s: s}
	s.Ambulances = &MemoryAmbulances{s: s}
	s.Positions = &MemoryPositions{s: s}
	return s
}

func (s *MemoryStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// AddAmbulance registers a with the given status.
func (s *MemoryStore) AddAmbulance(a *ambulance.Ambulance, status ambulance.Status) *ambulance.Ambulance {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := ambulance.Reconstruct(a.ID(), a.VehicleNumber(), a.DriverID(), a.DriverName(), a.DriverContact(),
		status, a.Version(), a.CreatedAt(), a.UpdatedAt())
	s.ambulances[a.ID()] = stored
	return cloneAmbulance(stored)
}

// AmbulanceStatus returns the stored status of id.
func (s *MemoryStore) AmbulanceStatus(id uuid.UUID) ambulance.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ambulances[id].Status()
}

// BookingSnapshot returns the stored state of id.
func (s *MemoryStore) BookingSnapshot(id uuid.UUID) booking.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *MemoryStore) setAmbulanceStatus(id uuid.UUID, status ambulance.Status, at time.Time) {
	a := s.ambulances[id]
	s.ambulances[id] = ambulance.Reconstruct(a.ID(), a.VehicleNumber(), a.DriverID(), a.DriverName(), a.DriverContact(),
		status, a.Version()+1, a.CreatedAt(), at)
}

// CommitAssignment implements dispatch.Store.
func (s *MemoryStore) CommitAssignment(_ context.Context, a dispatch.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	amb, ok := s.ambulances[a.AmbulanceID]
	if !ok || amb.Status() != ambulance.StatusAvailable {
		return dispatch.ErrAssignmentConflict
	}
	snap, ok := s.bookings[a.BookingID]
	if !ok || snap.Status != booking.StatusPending {
		return dispatch.ErrAssignmentConflict
	}

	now := time.Now().UTC()
	ambID := a.AmbulanceID
	snap.Status = booking.StatusAssigned
	snap.AmbulanceID = &ambID
	snap.RouteEstimate = &booking.RouteEstimate{
		DistanceMeters:   a.Estimate.DistanceMeters,
		DurationSeconds:  a.Estimate.DurationSeconds,
		EstimatedArrival: a.EstimatedArrival,
	}
	snap.Version++
	snap.UpdatedAt = now
	s.bookings[a.BookingID] = snap
	s.setAmbulanceStatus(a.AmbulanceID, ambulance.StatusEnRoute, now)
	return nil
}

// ApplyTransition implements dispatch.Store.
func (s *MemoryStore) ApplyTransition(_ context.Context, t dispatch.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	var snap booking.Snapshot
	if t.HasBooking() {
		var ok bool
		snap, ok = s.bookings[t.BookingID]
		if !ok || snap.Status != t.BookingFrom {
			return dispatch.ErrStateConflict
		}
	}
	if t.HasAmbulance() {
		amb, ok := s.ambulances[t.AmbulanceID]
		if !ok || amb.Status() != t.AmbulanceFrom {
			return dispatch.ErrStateConflict
		}
	}

	if t.HasBooking() {
		at := t.At
		snap.Status = t.BookingTo
		switch t.BookingTo {
		case booking.StatusEnRoute:
			snap.AcceptedAt = &at
		case booking.StatusArrived:
			snap.ArrivedAt = &at
		case booking.StatusCompleted:
			snap.CompletedAt = &at
		case booking.StatusCancelled:
			snap.CancelledAt = &at
			snap.CancelReason = t.CancelReason
		}
		if t.ReleaseAmbulance {
			snap.AmbulanceID = nil
			snap.RouteEstimate = nil
		}
		snap.Version++
		snap.UpdatedAt = at
		s.bookings[t.BookingID] = snap
	}
	if t.HasAmbulance() {
		s.setAmbulanceStatus(t.AmbulanceID, t.AmbulanceTo, t.At)
	}
	return nil
}

// MemoryBookings implements booking.BookingRepository.
type MemoryBookings struct{ s *MemoryStore }

var _ booking.BookingRepository = (*MemoryBookings)(nil)

func (r *MemoryBookings) FindByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return nil, err
	}
	snap, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("Booking", id.String())
	}
	return booking.ReconstructBooking(snap), nil
}

func (r *MemoryBookings) FindByReference(_ context.Context, reference string) (*booking.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, snap := range r.s.bookings {
		if snap.Reference == reference {
			return booking.ReconstructBooking(snap), nil
		}
	}
	return nil, domain.NewNotFoundError("Booking", reference)
}

func (r *MemoryBookings) FindByRequesterID(_ context.Context, requesterID uuid.UUID, page, limit int) ([]*booking.Booking, int64, error) {
	return r.list(func(s booking.Snapshot) bool {
		return s.RequesterID != nil && *s.RequesterID == requesterID
	}, page, limit)
}

func (r *MemoryBookings) FindActiveByAmbulance(_ context.Context, ambulanceID uuid.UUID) (*booking.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, snap := range r.s.bookings {
		if snap.AmbulanceID != nil && *snap.AmbulanceID == ambulanceID && snap.Status.IsActive() {
			return booking.ReconstructBooking(snap), nil
		}
	}
	return nil, domain.NewNotFoundError("Active booking for ambulance", ambulanceID.String())
}

func (r *MemoryBookings) ListAll(_ context.Context, status *booking.BookingStatus, page, limit int) ([]*booking.Booking, int64, error) {
	return r.list(func(s booking.Snapshot) bool {
		return status == nil || s.Status == *status
	}, page, limit)
}

func (r *MemoryBookings) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int64{}
	for _, snap := range r.s.bookings {
		counts[string(snap.Status)]++
	}
	return counts, nil
}

func (r *MemoryBookings) FindDispatchBacklog(_ context.Context, before time.Time, maxAttempts, limit int) ([]*booking.Booking, error) {
	all, _, err := r.list(func(s booking.Snapshot) bool {
		if s.Status != booking.StatusPending || s.Dispatch.Attempts >= maxAttempts {
			return false
		}
		return s.Dispatch.LastAttemptAt == nil || s.Dispatch.LastAttemptAt.Before(before)
	}, 1, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt().Before(all[j].CreatedAt()) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryBookings) Save(_ context.Context, bk *booking.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	if _, exists := r.s.bookings[bk.ID()]; exists {
		return domain.NewConflictError("booking already exists")
	}
	r.s.bookings[bk.ID()] = bk.Snapshot()
	return nil
}

func (r *MemoryBookings) RecordDispatchFailure(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	snap, ok := r.s.bookings[id]
	if !ok || snap.Status != booking.StatusPending {
		return domain.NewConflictError("booking is no longer pending")
	}
	snap.Dispatch.Attempts++
	snap.Dispatch.LastError = reason
	snap.Dispatch.LastAttemptAt = &at
	snap.Version++
	snap.UpdatedAt = at
	r.s.bookings[id] = snap
	return nil
}

// list returns matching bookings newest first; limit 0 returns all.
func (r *MemoryBookings) list(match func(booking.Snapshot) bool, page, limit int) ([]*booking.Booking, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*booking.Booking
	for _, snap := range r.s.bookings {
		if match(snap) {
			out = append(out, booking.ReconstructBooking(snap))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	total := int64(len(out))
	if limit > 0 {
		start := (page - 1) * limit
		if start > len(out) {
			start = len(out)
		}
		end := start + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

// MemoryAmbulances implements ambulance.Repository.
type MemoryAmbulances struct{ s *MemoryStore }

var _ ambulance.Repository = (*MemoryAmbulances)(nil)

func (r *MemoryAmbulances) FindByID(_ context.Context, id uuid.UUID) (*ambulance.Ambulance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.ambulances[id]
	if !ok {
		return nil, domain.NewNotFoundError("Ambulance", id.String())
	}
	return cloneAmbulance(a), nil
}

func (r *MemoryAmbulances) FindByDriverID(_ context.Context, driverID uuid.UUID) (*ambulance.Ambulance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.ambulances {
		if a.IsOperatedBy(driverID) {
			return cloneAmbulance(a), nil
		}
	}
	return nil, domain.NewNotFoundError("Ambulance for driver", driverID.String())
}

func (r *MemoryAmbulances) FindByStatus(_ context.Context, status ambulance.Status) ([]*ambulance.Ambulance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return nil, err
	}
	var out []*ambulance.Ambulance
	for _, a := range r.s.ambulances {
		if a.Status() == status {
			out = append(out, cloneAmbulance(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleNumber() < out[j].VehicleNumber() })
	return out, nil
}

func (r *MemoryAmbulances) List(_ context.Context, page, limit int) ([]*ambulance.Ambulance, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*ambulance.Ambulance, 0, len(r.s.ambulances))
	for _, a := range r.s.ambulances {
		out = append(out, cloneAmbulance(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleNumber() < out[j].VehicleNumber() })
	total := int64(len(out))
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *MemoryAmbulances) Save(_ context.Context, a *ambulance.Ambulance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.ambulances {
		if existing.VehicleNumber() == a.VehicleNumber() {
			return domain.NewConflictError("vehicle number already registered")
		}
	}
	r.s.ambulances[a.ID()] = cloneAmbulance(a)
	return nil
}

// cloneAmbulance keeps callers from mutating stored state.
func cloneAmbulance(a *ambulance.Ambulance) *ambulance.Ambulance {
	return ambulance.Reconstruct(a.ID(), a.VehicleNumber(), a.DriverID(), a.DriverName(), a.DriverContact(),
		a.Status(), a.Version(), a.CreatedAt(), a.UpdatedAt())
}

// MemoryPositions implements tracking.Repository.
type MemoryPositions struct{ s *MemoryStore }

var _ tracking.Repository = (*MemoryPositions)(nil)

func (r *MemoryPositions) Append(_ context.Context, p tracking.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.positions = append(r.s.positions, p)
	return nil
}

func (r *MemoryPositions) LatestPositions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]tracking.Position, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := map[uuid.UUID]tracking.Position{}
	for _, p := range r.s.positions {
		if !wanted[p.AmbulanceID] {
			continue
		}
		cur, ok := out[p.AmbulanceID]
		if !ok || p.RecordedAt.After(cur.RecordedAt) ||
			(p.RecordedAt.Equal(cur.RecordedAt) && p.ID.String() > cur.ID.String()) {
			out[p.AmbulanceID] = p
		}
	}
	return out, nil
}

func (r *MemoryPositions) History(_ context.Context, ambulanceID uuid.UUID, limit int) ([]tracking.Position, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []tracking.Position
	for _, p := range r.s.positions {
		if p.AmbulanceID == ambulanceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
