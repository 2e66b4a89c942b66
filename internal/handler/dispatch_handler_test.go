package handler

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Assigns(t *testing.T) {
	api := newAPI(t)
	near := api.availableAt(t, "WKL 1", uuid.New(), geo.Coordinates{Lat: 3.14, Lng: 101.69}, 240)
	api.availableAt(t, "WKL 2", uuid.New(), geo.Coordinates{Lat: 3.20, Lng: 101.70}, 900)
	bk := api.store.SeedPendingBooking(pickup)

	rec, env := api.do(t, http.MethodPost, "/api/v1/dispatch/bookings/"+bk.ID().String()+"/retry", uuid.New(), auth.RoleDispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[application.AssignmentDTO](t, env.Data)
	assert.Equal(t, near.ID(), out.AmbulanceID)
	assert.Equal(t, ambulance.StatusEnRoute, api.store.AmbulanceStatus(near.ID()))
}

func TestRetry_FailureReasons(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		api := newAPI(t)
		bk := api.store.SeedPendingBooking(pickup)

		rec, env := api.do(t, http.MethodPost, "/api/v1/dispatch/bookings/"+bk.ID().String()+"/retry", uuid.New(), auth.RoleAdmin, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "no_candidates", env.Error.Code)
		assert.Equal(t, 1, api.store.BookingSnapshot(bk.ID()).Dispatch.Attempts)
	})

	t.Run("no located candidates", func(t *testing.T) {
		api := newAPI(t)
		api.store.SeedAmbulance("WKL 3", ambulance.StatusAvailable, nil)
		bk := api.store.SeedPendingBooking(pickup)

		_, env := api.do(t, http.MethodPost, "/api/v1/dispatch/bookings/"+bk.ID().String()+"/retry", uuid.New(), auth.RoleAdmin, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, "no_located_candidates", env.Error.Code)
	})

	t.Run("no route", func(t *testing.T) {
		api := newAPI(t)
		unscripted := geo.Coordinates{Lat: 3.3, Lng: 101.5}
		api.store.SeedAmbulance("WKL 4", ambulance.StatusAvailable, &unscripted)
		bk := api.store.SeedPendingBooking(pickup)

		_, env := api.do(t, http.MethodPost, "/api/v1/dispatch/bookings/"+bk.ID().String()+"/retry", uuid.New(), auth.RoleAdmin, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, "no_route_found", env.Error.Code)
	})

	t.Run("already assigned", func(t *testing.T) {
		api := newAPI(t)
		api.availableAt(t, "WKL 5", uuid.New(), pickup, 60)
		bk := api.store.SeedPendingBooking(pickup)
		path := "/api/v1/dispatch/bookings/" + bk.ID().String() + "/retry"

		rec, _ := api.do(t, http.MethodPost, path, uuid.New(), auth.RoleAdmin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec, _ = api.do(t, http.MethodPost, path, uuid.New(), auth.RoleAdmin, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestDispatchRoutes_StaffOnly(t *testing.T) {
	api := newAPI(t)

	rec, _ := api.do(t, http.MethodGet, "/api/v1/dispatch/backlog", uuid.New(), auth.RolePatient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/dispatch/stats", uuid.New(), auth.RoleDriver, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBacklogAndStats(t *testing.T) {
	api := newAPI(t)
	api.store.SeedAmbulance("WKL 6", ambulance.StatusAvailable, nil)
	first := api.store.SeedPendingBooking(pickup)
	api.store.SeedPendingBooking(pickup)

	rec, env := api.do(t, http.MethodGet, "/api/v1/dispatch/backlog?limit=10", uuid.New(), auth.RoleDispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	backlog := decode[[]application.BookingDTO](t, env.Data)
	require.Len(t, backlog, 2)
	assert.Contains(t, []uuid.UUID{backlog[0].ID, backlog[1].ID}, first.ID())

	rec, env = api.do(t, http.MethodGet, "/api/v1/dispatch/stats", uuid.New(), auth.RoleDispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[application.DispatchStatsDTO](t, env.Data)
	assert.EqualValues(t, 2, stats.TotalBookings)
	assert.EqualValues(t, 1, stats.AvailableFleet)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/admin/stats/bookings", uuid.New(), auth.RoleDispatcher, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = api.do(t, http.MethodGet, "/api/v1/admin/stats/bookings", uuid.New(), auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = api.do(t, http.MethodGet, "/api/v1/admin/bookings?status=pending", uuid.New(), auth.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]application.BookingDTO](t, env.Data), 2)
}
