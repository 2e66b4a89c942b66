package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPickup() Location {
	return Location{Address: "Jalan Ampang 12, Kuala Lumpur", Latitude: 3.1590, Longitude: 101.7130}
}

func newPendingBooking(t *testing.T) *Booking {
	t.Helper()
	age := 67
	bk, err := NewBooking(nil, EmergencyCardiac,
		PatientDetails{Name: "Aminah", Age: &age, Contact: "+60123456789"},
		validPickup(), nil)
	require.NoError(t, err)
	return bk
}

func TestNewBooking(t *testing.T) {
	bk := newPendingBooking(t)

	assert.Equal(t, StatusPending, bk.Status())
	assert.Regexp(t, `^EM-[A-Z2-9]{6}$`, bk.Reference())
	assert.Nil(t, bk.AmbulanceID())
	assert.Equal(t, int64(1), bk.Version())
}

func TestNewBooking_Validation(t *testing.T) {
	badAge := 200
	tests := []struct {
		name    string
		typ     EmergencyType
		patient PatientDetails
		pickup  Location
		dropoff *Location
	}{
		{"unknown emergency", "flu", PatientDetails{Name: "A", Contact: "1"}, validPickup(), nil},
		{"missing name", EmergencyTrauma, PatientDetails{Contact: "1"}, validPickup(), nil},
		{"missing contact", EmergencyTrauma, PatientDetails{Name: "A"}, validPickup(), nil},
		{"bad age", EmergencyTrauma, PatientDetails{Name: "A", Contact: "1", Age: &badAge}, validPickup(), nil},
		{"missing address", EmergencyTrauma, PatientDetails{Name: "A", Contact: "1"}, Location{Latitude: 1, Longitude: 1}, nil},
		{"bad pickup lat", EmergencyTrauma, PatientDetails{Name: "A", Contact: "1"}, Location{Address: "x", Latitude: 95}, nil},
		{"bad dropoff", EmergencyTrauma, PatientDetails{Name: "A", Contact: "1"}, validPickup(), &Location{Longitude: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBooking(nil, tt.typ, tt.patient, tt.pickup, tt.dropoff)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestBooking_Lifecycle(t *testing.T) {
	bk := newPendingBooking(t)
	ambulanceID := uuid.New()
	eta := time.Now().Add(7 * time.Minute)

	require.NoError(t, bk.Assign(ambulanceID, RouteEstimate{DistanceMeters: 3200, DurationSeconds: 420, EstimatedArrival: eta}))
	assert.Equal(t, StatusAssigned, bk.Status())
	assert.Equal(t, ambulanceID, *bk.AmbulanceID())

	require.NoError(t, bk.Accept())
	require.NotNil(t, bk.AcceptedAt())
	accepted := *bk.AcceptedAt()

	require.NoError(t, bk.MarkArrived())
	require.NoError(t, bk.Complete())
	assert.Equal(t, StatusCompleted, bk.Status())
	assert.Equal(t, accepted, *bk.AcceptedAt(), "earlier timestamps must not move")
	assert.True(t, bk.Status().IsTerminal())
}

func TestBooking_AssignRequiresPending(t *testing.T) {
	bk := newPendingBooking(t)
	require.NoError(t, bk.Assign(uuid.New(), RouteEstimate{}))

	err := bk.Assign(uuid.New(), RouteEstimate{})
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestBooking_RequeueClearsAssignment(t *testing.T) {
	bk := newPendingBooking(t)
	require.NoError(t, bk.Assign(uuid.New(), RouteEstimate{DurationSeconds: 100}))

	require.NoError(t, bk.Requeue())
	assert.Equal(t, StatusPending, bk.Status())
	assert.Nil(t, bk.AmbulanceID())
	assert.Nil(t, bk.RouteEstimate())
}

func TestBooking_Cancel(t *testing.T) {
	bk := newPendingBooking(t)
	require.NoError(t, bk.Cancel("duplicate call"))
	assert.Equal(t, "duplicate call", bk.CancelReason())
	assert.NotNil(t, bk.CancelledAt())

	assert.Error(t, bk.Cancel("again"))
}

func TestBooking_RecordDispatchFailure(t *testing.T) {
	bk := newPendingBooking(t)
	at := time.Now().UTC()

	require.NoError(t, bk.RecordDispatchFailure("no route found", at))
	require.NoError(t, bk.RecordDispatchFailure("no candidates", at))
	assert.Equal(t, 2, bk.Dispatch().Attempts)
	assert.Equal(t, "no candidates", bk.Dispatch().LastError)

	require.NoError(t, bk.Assign(uuid.New(), RouteEstimate{}))
	assert.Error(t, bk.RecordDispatchFailure("late", at))
}

func TestReconstructBooking_RoundTripsSnapshot(t *testing.T) {
	bk := newPendingBooking(t)
	clone := ReconstructBooking(bk.Snapshot())
	assert.Equal(t, bk.Snapshot(), clone.Snapshot())
}

func TestBookingStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusAssigned))
	assert.True(t, StatusAssigned.CanTransitionTo(StatusPending))
	assert.False(t, StatusPending.CanTransitionTo(StatusEnRoute))
	assert.False(t, StatusArrived.CanBeCancelled())
	assert.True(t, StatusEnRoute.IsActive())
	assert.False(t, StatusPending.IsActive())

	_, err := ParseBookingStatus("requested")
	assert.Error(t, err)
	s, err := ParseBookingStatus("en_route")
	require.NoError(t, err)
	assert.Equal(t, StatusEnRoute, s)
}
