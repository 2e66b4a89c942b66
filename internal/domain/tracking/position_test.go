package tracking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPosition(t *testing.T) {
	id := uuid.New()

	p, err := NewPosition(id, geo.Coordinates{Lat: 3.1, Lng: 101.6}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, id, p.AmbulanceID)
	assert.False(t, p.RecordedAt.IsZero())

	_, err = NewPosition(uuid.Nil, geo.Coordinates{}, time.Time{})
	assert.Error(t, err)
	_, err = NewPosition(id, geo.Coordinates{Lat: -91}, time.Time{})
	assert.Error(t, err)
	_, err = NewPosition(id, geo.Coordinates{}, time.Now().Add(time.Hour))
	assert.Error(t, err)
}
