package dispatch_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/fleet"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"github.com/rescuelink/service-dispatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pickup = geo.Coordinates{Lat: 3.1390, Lng: 101.6869}

func at(lat, lng float64) *geo.Coordinates {
	return &geo.Coordinates{Lat: lat, Lng: lng}
}

type harness struct {
	store    *testutil.MemoryStore
	router   *testutil.FakeRouter
	selector *dispatch.Selector
}

func newHarness() *harness {
	store := testutil.NewMemoryStore()
	router := testutil.NewFakeRouter()
	locator := fleet.NewLocator(store.Positions, 0)
	return &harness{
		store:    store,
		router:   router,
		selector: dispatch.NewSelector(locator, router, 4, zap.NewNop()),
	}
}

func (h *harness) ambulance(number string, status ambulance.Status, pos *geo.Coordinates, route *testutil.RouteResult) *ambulance.Ambulance {
	a := h.store.SeedAmbulance(number, status, pos)
	if pos != nil && route != nil {
		h.router.Set(*pos, *route)
	}
	return a
}

func eta(seconds float64) *testutil.RouteResult {
	return &testutil.RouteResult{Estimate: routing.Estimate{DistanceMeters: seconds * 10, DurationSeconds: seconds}}
}

func TestSelect_PicksMinimumDurationAndSkipsUnlocated(t *testing.T) {
	h := newHarness()
	v1 := h.ambulance("V1", ambulance.StatusAvailable, at(3.10, 101.60), eta(420))
	v2 := h.ambulance("V2", ambulance.StatusAvailable, at(3.12, 101.65), eta(300))
	v3 := h.ambulance("V3", ambulance.StatusAvailable, nil, nil)

	sel, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{v1, v2, v3})

	require.NoError(t, err)
	assert.Equal(t, v2.ID(), sel.Ambulance.ID())
	assert.Equal(t, 300.0, sel.Estimate.DurationSeconds)
	assert.Equal(t, 2, sel.Located)
	assert.Equal(t, 2, sel.Routed)
	assert.Equal(t, 2, h.router.Calls())
}

func TestSelect_SkipsUnavailableRoutes(t *testing.T) {
	h := newHarness()
	v1 := h.ambulance("V1", ambulance.StatusAvailable, at(3.10, 101.60),
		&testutil.RouteResult{Err: &routing.UnavailableError{Provider: "fake", Reason: "NoRoute"}})
	v2 := h.ambulance("V2", ambulance.StatusAvailable, at(3.12, 101.65), eta(500))

	sel, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{v1, v2})

	require.NoError(t, err)
	assert.Equal(t, v2.ID(), sel.Ambulance.ID())
	assert.Equal(t, 1, sel.Routed)
}

func TestSelect_NoCandidatesMakesNoNetworkCall(t *testing.T) {
	h := newHarness()
	busy := h.ambulance("V1", ambulance.StatusEnRoute, at(3.10, 101.60), eta(100))
	off := h.ambulance("V2", ambulance.StatusOffline, at(3.11, 101.61), eta(90))

	_, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{busy, off})

	assert.ErrorIs(t, err, dispatch.ErrNoCandidates)
	assert.Equal(t, 0, h.router.Calls())

	_, err = h.selector.Select(context.Background(), pickup, nil)
	assert.ErrorIs(t, err, dispatch.ErrNoCandidates)
}

func TestSelect_NoLocatedCandidates(t *testing.T) {
	h := newHarness()
	v1 := h.ambulance("V1", ambulance.StatusAvailable, nil, nil)

	_, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{v1})

	assert.ErrorIs(t, err, dispatch.ErrNoLocatedCandidates)
	assert.Equal(t, 0, h.router.Calls())
}

func TestSelect_AllRoutesUnavailable(t *testing.T) {
	h := newHarness()
	v1 := h.ambulance("V1", ambulance.StatusAvailable, at(3.10, 101.60), nil)
	v2 := h.ambulance("V2", ambulance.StatusAvailable, at(3.11, 101.61), nil)

	_, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{v1, v2})

	assert.ErrorIs(t, err, dispatch.ErrNoRouteFound)
	assert.Equal(t, 2, h.router.Calls())
}

func TestSelect_TieBreaksOnLowestID(t *testing.T) {
	h := newHarness()
	var fleetList []*ambulance.Ambulance
	for i, pos := range []*geo.Coordinates{at(3.10, 101.60), at(3.11, 101.61), at(3.12, 101.62), at(3.13, 101.63)} {
		fleetList = append(fleetList, h.ambulance(string(rune('A'+i))+"TIE", ambulance.StatusAvailable, pos, eta(240)))
	}
	ids := make([]string, len(fleetList))
	for i, a := range fleetList {
		ids[i] = a.ID().String()
	}
	sort.Strings(ids)

	for run := 0; run < 25; run++ {
		sel, err := h.selector.Select(context.Background(), pickup, fleetList)
		require.NoError(t, err)
		assert.Equal(t, ids[0], sel.Ambulance.ID().String())
	}
}

func TestSelect_DeterministicRegardlessOfCompletionOrder(t *testing.T) {
	h := newHarness()
	slowFast := h.ambulance("SLOW", ambulance.StatusAvailable, at(3.10, 101.60),
		&testutil.RouteResult{Estimate: routing.Estimate{DurationSeconds: 120}, Delay: 50 * time.Millisecond})
	quickSlow := h.ambulance("QUICK", ambulance.StatusAvailable, at(3.11, 101.61), eta(600))

	sel, err := h.selector.Select(context.Background(), pickup, []*ambulance.Ambulance{quickSlow, slowFast})

	require.NoError(t, err)
	assert.Equal(t, slowFast.ID(), sel.Ambulance.ID())
}

func TestSelect_DeadlineReturnsNoRouteFound(t *testing.T) {
	h := newHarness()
	v1 := h.ambulance("V1", ambulance.StatusAvailable, at(3.10, 101.60),
		&testutil.RouteResult{Estimate: routing.Estimate{DurationSeconds: 60}, Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.selector.Select(ctx, pickup, []*ambulance.Ambulance{v1})

	assert.ErrorIs(t, err, dispatch.ErrNoRouteFound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type hangingRouter struct{ release chan struct{} }

func (h hangingRouter) Route(context.Context, geo.Coordinates, geo.Coordinates) (routing.Estimate, error) {
	<-h.release
	return routing.Estimate{DurationSeconds: 1}, nil
}

func TestSelect_AbandonsRouterIgnoringCancellation(t *testing.T) {
	store := testutil.NewMemoryStore()
	v1 := store.SeedAmbulance("V1", ambulance.StatusAvailable, at(3.10, 101.60))
	router := hangingRouter{release: make(chan struct{})}
	defer close(router.release)
	selector := dispatch.NewSelector(fleet.NewLocator(store.Positions, 0), router, 1, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := selector.Select(ctx, pickup, []*ambulance.Ambulance{v1})
	assert.ErrorIs(t, err, dispatch.ErrNoRouteFound)
}

type failingLocator struct{}

func (failingLocator) Locate(context.Context, []uuid.UUID) (map[uuid.UUID]tracking.Position, error) {
	return nil, errors.New("connection refused")
}

func TestSelect_LocatorFailureIsPersistenceError(t *testing.T) {
	store := testutil.NewMemoryStore()
	v1 := store.SeedAmbulance("V1", ambulance.StatusAvailable, at(3.10, 101.60))
	selector := dispatch.NewSelector(failingLocator{}, testutil.NewFakeRouter(), 0, zap.NewNop())

	_, err := selector.Select(context.Background(), pickup, []*ambulance.Ambulance{v1})

	var pe *dispatch.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "locate candidates", pe.Op)
	assert.True(t, dispatch.IsRetriable(err))
}
