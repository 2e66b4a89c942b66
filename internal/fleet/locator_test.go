package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPositions struct {
	latest map[uuid.UUID]tracking.Position
	err    error
	calls  [][]uuid.UUID
}

func (s *stubPositions) LatestPositions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]tracking.Position, error) {
	s.calls = append(s.calls, ids)
	if s.err != nil {
		return nil, s.err
	}
	out := map[uuid.UUID]tracking.Position{}
	for _, id := range ids {
		if p, ok := s.latest[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func position(id uuid.UUID, lat, lng float64, at time.Time) tracking.Position {
	return tracking.Position{ID: uuid.New(), AmbulanceID: id, Coordinates: geo.Coordinates{Lat: lat, Lng: lng}, RecordedAt: at}
}

func TestLocator_Locate_AbsentIsNotAnError(t *testing.T) {
	located, missing := uuid.New(), uuid.New()
	store := &stubPositions{latest: map[uuid.UUID]tracking.Position{
		located: position(located, 3.1, 101.6, time.Now()),
	}}
	locator := NewLocator(store, 0)

	got, err := locator.Locate(context.Background(), []uuid.UUID{located, missing, located})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, located)
	assert.NotContains(t, got, missing)
	assert.Len(t, store.calls[0], 2, "duplicate IDs are collapsed")
}

func TestLocator_Locate_Idempotent(t *testing.T) {
	id := uuid.New()
	store := &stubPositions{latest: map[uuid.UUID]tracking.Position{id: position(id, 3.1, 101.6, time.Now())}}
	locator := NewLocator(store, 0)

	first, err := locator.Locate(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	second, err := locator.Locate(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLocator_Locate_DropsStalePositions(t *testing.T) {
	fresh, stale := uuid.New(), uuid.New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &stubPositions{latest: map[uuid.UUID]tracking.Position{
		fresh: position(fresh, 3.1, 101.6, now.Add(-time.Minute)),
		stale: position(stale, 3.1, 101.6, now.Add(-time.Hour)),
	}}
	locator := NewLocator(store, 10*time.Minute)
	locator.now = func() time.Time { return now }

	got, err := locator.Locate(context.Background(), []uuid.UUID{fresh, stale})
	require.NoError(t, err)
	assert.Contains(t, got, fresh)
	assert.NotContains(t, got, stale)
}

func TestLocator_Locate_StoreFailure(t *testing.T) {
	locator := NewLocator(&stubPositions{err: errors.New("connection reset")}, 0)
	_, err := locator.Locate(context.Background(), []uuid.UUID{uuid.New()})
	assert.Error(t, err)
}

func TestLocator_Locate_EmptyInputMakesNoRead(t *testing.T) {
	store := &stubPositions{}
	got, err := NewLocator(store, 0).Locate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, store.calls)
}

func TestLocator_Nearby(t *testing.T) {
	near, _ := ambulance.NewAmbulance("NEAR1", nil, "A", "1")
	far, _ := ambulance.NewAmbulance("FAR1", nil, "B", "2")
	unlocated, _ := ambulance.NewAmbulance("NONE1", nil, "C", "3")

	store := &stubPositions{latest: map[uuid.UUID]tracking.Position{
		near.ID(): position(near.ID(), 3.1400, 101.6870, time.Now()),
		far.ID():  position(far.ID(), 3.3000, 101.6870, time.Now()),
	}}
	locator := NewLocator(store, 0)

	got, err := locator.Nearby(context.Background(), geo.Coordinates{Lat: 3.139, Lng: 101.6869}, 5,
		[]*ambulance.Ambulance{far, unlocated, near})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID(), got[0].Ambulance.ID())
	assert.Less(t, got[0].DistanceKm, 1.0)

	center := geo.Coordinates{Lat: 3.139, Lng: 101.6869}
	edge := geo.DistanceKm(center, geo.Coordinates{Lat: 3.3000, Lng: 101.6870})
	got, err = locator.Nearby(context.Background(), center, edge, []*ambulance.Ambulance{far, near})
	require.NoError(t, err)
	require.Len(t, got, 2, "the radius boundary is inclusive")
	assert.Equal(t, far.ID(), got[1].Ambulance.ID())
}
