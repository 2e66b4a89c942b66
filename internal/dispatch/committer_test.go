package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"github.com/rescuelink/service-dispatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCommit_AssignsBothSides(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V2", ambulance.StatusAvailable, nil)
	bk := store.SeedPendingBooking(pickup)
	committer := dispatch.NewCommitter(store, zap.NewNop())

	before := time.Now().UTC()
	err := committer.Commit(context.Background(), dispatch.Assignment{
		BookingID:   bk.ID(),
		AmbulanceID: amb.ID(),
		Estimate:    routing.Estimate{DistanceMeters: 2500, DurationSeconds: 300},
	})
	require.NoError(t, err)

	snap := store.BookingSnapshot(bk.ID())
	assert.Equal(t, booking.StatusAssigned, snap.Status)
	assert.Equal(t, amb.ID(), *snap.AmbulanceID)
	require.NotNil(t, snap.RouteEstimate)
	assert.WithinDuration(t, before.Add(300*time.Second), snap.RouteEstimate.EstimatedArrival, 2*time.Second)
	assert.Equal(t, ambulance.StatusEnRoute, store.AmbulanceStatus(amb.ID()))
}

func TestCommit_ConflictWhenAmbulanceTaken(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V2", ambulance.StatusEnRoute, nil)
	bk := store.SeedPendingBooking(pickup)
	committer := dispatch.NewCommitter(store, zap.NewNop())

	err := committer.Commit(context.Background(), dispatch.Assignment{BookingID: bk.ID(), AmbulanceID: amb.ID()})

	assert.ErrorIs(t, err, dispatch.ErrAssignmentConflict)
	assert.Equal(t, booking.StatusPending, store.BookingSnapshot(bk.ID()).Status)
	assert.Nil(t, store.BookingSnapshot(bk.ID()).AmbulanceID)
	assert.Equal(t, ambulance.StatusEnRoute, store.AmbulanceStatus(amb.ID()))
}

func TestCommit_ConflictWhenBookingNoLongerPending(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V2", ambulance.StatusAvailable, nil)
	bk := store.SeedPendingBooking(pickup)
	committer := dispatch.NewCommitter(store, zap.NewNop())
	require.NoError(t, committer.Apply(context.Background(), dispatch.Transition{
		Name: "cancel", BookingID: bk.ID(), BookingFrom: booking.StatusPending, BookingTo: booking.StatusCancelled,
	}))

	err := committer.Commit(context.Background(), dispatch.Assignment{BookingID: bk.ID(), AmbulanceID: amb.ID()})

	assert.ErrorIs(t, err, dispatch.ErrAssignmentConflict)
	assert.Equal(t, ambulance.StatusAvailable, store.AmbulanceStatus(amb.ID()))
}

func TestCommit_StorageFailureIsPersistenceError(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V2", ambulance.StatusAvailable, nil)
	bk := store.SeedPendingBooking(pickup)
	store.FailNext = errors.New("driver: bad connection")
	committer := dispatch.NewCommitter(store, zap.NewNop())

	err := committer.Commit(context.Background(), dispatch.Assignment{BookingID: bk.ID(), AmbulanceID: amb.ID()})

	var pe *dispatch.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, booking.StatusPending, store.BookingSnapshot(bk.ID()).Status)
	assert.Equal(t, ambulance.StatusAvailable, store.AmbulanceStatus(amb.ID()))
}

func TestCommit_ConcurrentBookingsRaceForOneAmbulance(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V1", ambulance.StatusAvailable, nil)
	committer := dispatch.NewCommitter(store, zap.NewNop())

	const racers = 8
	bookings := make([]*booking.Booking, racers)
	for i := range bookings {
		bookings[i] = store.SeedPendingBooking(pickup)
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = committer.Commit(context.Background(), dispatch.Assignment{
				BookingID: bookings[i].ID(), AmbulanceID: amb.ID(),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	committed, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, dispatch.ErrAssignmentConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, racers-1, conflicts)
	assert.Equal(t, ambulance.StatusEnRoute, store.AmbulanceStatus(amb.ID()))

	assigned := 0
	for _, bk := range bookings {
		if store.BookingSnapshot(bk.ID()).Status == booking.StatusAssigned {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned)
}

func TestCommit_RequiresIDs(t *testing.T) {
	committer := dispatch.NewCommitter(testutil.NewMemoryStore(), zap.NewNop())
	err := committer.Commit(context.Background(), dispatch.Assignment{BookingID: uuid.New()})
	assert.Error(t, err)
}

func TestApply_ReleasesAmbulanceOnDecline(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V1", ambulance.StatusAvailable, nil)
	bk := store.SeedPendingBooking(pickup)
	committer := dispatch.NewCommitter(store, zap.NewNop())
	require.NoError(t, committer.Commit(context.Background(), dispatch.Assignment{BookingID: bk.ID(), AmbulanceID: amb.ID()}))

	err := committer.Apply(context.Background(), dispatch.Transition{
		Name:             "decline",
		BookingID:        bk.ID(),
		BookingFrom:      booking.StatusAssigned,
		BookingTo:        booking.StatusPending,
		ReleaseAmbulance: true,
		AmbulanceID:      amb.ID(),
		AmbulanceFrom:    ambulance.StatusEnRoute,
		AmbulanceTo:      ambulance.StatusAvailable,
	})
	require.NoError(t, err)

	snap := store.BookingSnapshot(bk.ID())
	assert.Equal(t, booking.StatusPending, snap.Status)
	assert.Nil(t, snap.AmbulanceID)
	assert.Equal(t, ambulance.StatusAvailable, store.AmbulanceStatus(amb.ID()))
}

func TestApply_StaleFromStatusIsConflict(t *testing.T) {
	store := testutil.NewMemoryStore()
	amb := store.SeedAmbulance("V1", ambulance.StatusAvailable, nil)
	bk := store.SeedPendingBooking(pickup)
	committer := dispatch.NewCommitter(store, zap.NewNop())

	err := committer.Apply(context.Background(), dispatch.Transition{
		Name:          "arrive",
		BookingID:     bk.ID(),
		BookingFrom:   booking.StatusEnRoute,
		BookingTo:     booking.StatusArrived,
		AmbulanceID:   amb.ID(),
		AmbulanceFrom: ambulance.StatusEnRoute,
		AmbulanceTo:   ambulance.StatusOnScene,
	})

	assert.ErrorIs(t, err, dispatch.ErrStateConflict)
	assert.Equal(t, booking.StatusPending, store.BookingSnapshot(bk.ID()).Status)
	assert.Equal(t, ambulance.StatusAvailable, store.AmbulanceStatus(amb.ID()))
}

func TestApply_RejectsInvalidTransitions(t *testing.T) {
	committer := dispatch.NewCommitter(testutil.NewMemoryStore(), zap.NewNop())

	tests := []dispatch.Transition{
		{Name: "empty"},
		{Name: "skip", BookingID: uuid.New(), BookingFrom: booking.StatusPending, BookingTo: booking.StatusCompleted},
		{Name: "assign", BookingID: uuid.New(), BookingFrom: booking.StatusPending, BookingTo: booking.StatusAssigned},
		{Name: "teleport", AmbulanceID: uuid.New(), AmbulanceFrom: ambulance.StatusOffline, AmbulanceTo: ambulance.StatusOnScene},
	}
	for _, tr := range tests {
		t.Run(tr.Name, func(t *testing.T) {
			assert.Error(t, committer.Apply(context.Background(), tr))
		})
	}
}

func TestReasonAndRetriable(t *testing.T) {
	assert.Equal(t, "committed", dispatch.Reason(nil))
	assert.Equal(t, "no_route_found", dispatch.Reason(dispatch.ErrNoRouteFound))
	assert.Equal(t, "persistence_error", dispatch.Reason(dispatch.NewPersistenceError("x", errors.New("y"))))
	assert.True(t, dispatch.IsRetriable(dispatch.ErrNoCandidates))
	assert.False(t, dispatch.IsRetriable(errors.New("validation")))
	assert.True(t, dispatch.IsSelectionFailure(dispatch.ErrNoLocatedCandidates))
}
