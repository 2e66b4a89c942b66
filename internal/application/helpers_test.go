package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/fleet"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"github.com/rescuelink/service-dispatch/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pickup = geo.Coordinates{Lat: 3.1390, Lng: 101.6869}

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *recordingQueue) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

func (q *recordingQueue) queued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

type env struct {
	store     *testutil.MemoryStore
	router    *testutil.FakeRouter
	queue     *recordingQueue
	events    *testutil.RecordingPublisher
	alerts    *testutil.RecordingPublisher
	committer *dispatch.Committer
	bookings  *BookingService
	dispatch  *DispatchService
	fleet     *FleetService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	store := testutil.NewMemoryStore()
	router := testutil.NewFakeRouter()
	locator := fleet.NewLocator(store.Positions, 0)
	committer := dispatch.NewCommitter(store, log)
	selector := dispatch.NewSelector(locator, router, 4, log)
	e := &env{
		store:     store,
		router:    router,
		queue:     &recordingQueue{},
		events:    &testutil.RecordingPublisher{},
		alerts:    &testutil.RecordingPublisher{},
		committer: committer,
	}
	e.bookings = NewBookingService(store.Bookings, store.Ambulances, committer, e.queue, e.events, log)
	e.dispatch = NewDispatchService(store.Bookings, store.Ambulances, selector, committer, e.events, e.alerts,
		DispatchOptions{AttemptTimeout: 2 * time.Second, MaxConflictRetries: 2, MaxAttempts: 3}, log)
	e.fleet = NewFleetService(store.Ambulances, store.Positions, locator, committer, e.events, log)
	return e
}

// crewedAmbulance registers an available ambulance driven by driverID at pos
// with a scripted route of etaSeconds.
func (e *env) crewedAmbulance(t *testing.T, number string, driverID uuid.UUID, pos geo.Coordinates, etaSeconds float64) *ambulance.Ambulance {
	t.Helper()
	a := e.store.AddAmbulance(testutil.NewAmbulance(number, &driverID), ambulance.StatusAvailable)
	p, err := tracking.NewPosition(a.ID(), pos, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, e.store.Positions.Append(context.Background(), p))
	e.router.Set(pos, testutil.RouteResult{Estimate: routing.Estimate{DistanceMeters: etaSeconds * 12, DurationSeconds: etaSeconds}})
	return a
}

func driver(id uuid.UUID) Actor      { return Actor{UserID: id, Role: auth.RoleDriver} }
func patient(id uuid.UUID) Actor     { return Actor{UserID: id, Role: auth.RolePatient} }
func dispatcher() Actor              { return Actor{UserID: uuid.New(), Role: auth.RoleDispatcher} }
func intPtr(v int) *int              { return &v }
func uuidPtr(v uuid.UUID) *uuid.UUID { return &v }
