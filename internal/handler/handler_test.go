package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/application"
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

type queueStub struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *queueStub) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

type apiEnv struct {
	engine *gin.Engine
	jwt    *auth.JWTManager
	store  *testutil.MemoryStore
	router *testutil.FakeRouter
	queue  *queueStub
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	store := testutil.NewMemoryStore()
	router := testutil.NewFakeRouter()
	queue := &queueStub{}
	events := &testutil.RecordingPublisher{}

	locator := fleet.NewLocator(store.Positions, 0)
	selector := dispatch.NewSelector(locator, router, 4, log)
	committer := dispatch.NewCommitter(store, log)

	bookings := application.NewBookingService(store.Bookings, store.Ambulances, committer, queue, events, log)
	dispatcher := application.NewDispatchService(store.Bookings, store.Ambulances, selector, committer, events, nil,
		application.DispatchOptions{AttemptTimeout: time.Second, MaxConflictRetries: 1, MaxAttempts: 5}, log)
	fleetSvc := application.NewFleetService(store.Ambulances, store.Positions, locator, committer, events, log)

	jwt := auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	engine := gin.New()
	root := engine.Group("")
	NewBookingHandler(bookings).RegisterRoutes(root, jwt)
	NewAmbulanceHandler(fleetSvc, bookings).RegisterRoutes(root, jwt)
	NewDispatchHandler(dispatcher).RegisterRoutes(root, jwt)
	NewAdminHandler(bookings, dispatcher).RegisterRoutes(root, jwt)
	NewRouteHandler(application.NewRouteService(router, log)).RegisterRoutes(root, jwt)

	return &apiEnv{engine: engine, jwt: jwt, store: store, router: router, queue: queue}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiEnv) do(t *testing.T, method, path string, userID uuid.UUID, role auth.Role, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := e.jwt.GenerateAccessToken(userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (e *apiEnv) availableAt(t *testing.T, number string, driverID uuid.UUID, pos geo.Coordinates, etaSeconds float64) *ambulance.Ambulance {
	t.Helper()
	a := e.store.AddAmbulance(testutil.NewAmbulance(number, &driverID), ambulance.StatusAvailable)
	p, err := tracking.NewPosition(a.ID(), pos, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, e.store.Positions.Append(context.Background(), p))
	e.router.Set(pos, testutil.RouteResult{Estimate: routing.Estimate{DistanceMeters: etaSeconds * 12, DurationSeconds: etaSeconds}})
	return a
}

func bookingBody() map[string]any {
	return map[string]any{
		"emergency_type": "cardiac",
		"patient":        map[string]any{"name": "Aisyah", "contact": "+60123456789"},
		"pickup":         map[string]any{"address": "Jalan Ampang 1", "latitude": pickup.Lat, "longitude": pickup.Lng},
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
