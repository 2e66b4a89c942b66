package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	bookingDomain "github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/events"
	"go.uber.org/zap"
)

// DispatchOptions tunes one dispatch attempt.
type DispatchOptions struct {
	// AttemptTimeout bounds selection plus commit.
	AttemptTimeout time.Duration
	// MaxConflictRetries is how many times a lost commit is re-selected
	// without the contested vehicle.
	MaxConflictRetries int
	// MaxAttempts caps background retries of a pending booking.
	MaxAttempts int
}

// DefaultDispatchOptions returns the production defaults.
func DefaultDispatchOptions() DispatchOptions {
	return DispatchOptions{
		AttemptTimeout:     10 * time.Second,
		MaxConflictRetries: 2,
		MaxAttempts:        20,
	}
}

// DispatchService runs dispatch attempts: select the fastest available
// ambulance and commit the assignment.
type DispatchService struct {
	bookings   bookingDomain.BookingRepository
	ambulances ambulance.Repository
	selector   *dispatch.Selector
	committer  *dispatch.Committer
	publisher  EventPublisher
	alerts     EventPublisher
	opts       DispatchOptions
	logger     *zap.Logger
	now        func() time.Time
	queueDepth func() int
}

// NewDispatchService creates a new DispatchService. alerts may be nil.
func NewDispatchService(
	bookings bookingDomain.BookingRepository,
	ambulances ambulance.Repository,
	selector *dispatch.Selector,
	committer *dispatch.Committer,
	publisher EventPublisher,
	alerts EventPublisher,
	opts DispatchOptions,
	logger *zap.Logger,
) *DispatchService {
	return &DispatchService{
		bookings:   bookings,
		ambulances: ambulances,
		selector:   selector,
		committer:  committer,
		publisher:  publisher,
		alerts:     alerts,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// ObserveQueue reports the dispatch queue depth in Stats.
func (s *DispatchService) ObserveQueue(depth func() int) { s.queueDepth = depth }

// MaxAttempts is the retry cap used by the sweeper.
func (s *DispatchService) MaxAttempts() int { return s.opts.MaxAttempts }

// DispatchBooking runs one dispatch attempt. It returns the assignment on
// success. A dispatch outcome error (dispatch.ErrNoCandidates and friends)
// leaves the booking pending with the failure recorded; an AppError means the
// booking was not eligible.
func (s *DispatchService) DispatchBooking(ctx context.Context, bookingID uuid.UUID) (*AssignmentDTO, error) {
	attemptCtx := ctx
	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
	}

	bk, err := s.bookings.FindByID(attemptCtx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.Status() != bookingDomain.StatusPending {
		return nil, domain.NewInvalidStateError(string(bk.Status()), string(bookingDomain.StatusAssigned))
	}

	result, err := s.attempt(attemptCtx, bk)
	if err != nil {
		s.recordFailure(ctx, bk, err)
		return nil, err
	}

	s.logger.Info("ambulance assigned",
		zap.String("booking_id", bk.ID().String()),
		zap.String("ambulance_id", result.AmbulanceID.String()),
		zap.Float64("eta_seconds", result.DurationSeconds),
	)
	evt := events.BookingAssignedEvent{
		BookingID:        result.BookingID,
		Reference:        result.Reference,
		AmbulanceID:      result.AmbulanceID,
		VehicleNumber:    result.VehicleNumber,
		DistanceMeters:   result.DistanceMeters,
		DurationSeconds:  result.DurationSeconds,
		EstimatedArrival: result.EstimatedArrival,
		OccurredAt:       s.now().UTC(),
	}
	publishEvent(ctx, s.publisher, s.logger, events.TopicDispatchEvents, events.BookingAssigned, bk.ID().String(), evt)
	publishEvent(ctx, s.alerts, s.logger, events.TopicDispatchEvents, events.BookingAssigned, bk.ID().String(), evt)
	return result, nil
}

func (s *DispatchService) attempt(ctx context.Context, bk *bookingDomain.Booking) (*AssignmentDTO, error) {
	pool, err := s.ambulances.FindByStatus(ctx, ambulance.StatusAvailable)
	if err != nil {
		return nil, dispatch.NewPersistenceError("list available ambulances", err)
	}

	pickup := bk.Pickup().Coordinates()
	for retry := 0; ; retry++ {
		sel, err := s.selector.Select(ctx, pickup, pool)
		if err != nil {
			return nil, err
		}

		eta := s.now().UTC().Add(sel.Estimate.Duration())
		err = s.committer.Commit(ctx, dispatch.Assignment{
			BookingID:        bk.ID(),
			AmbulanceID:      sel.Ambulance.ID(),
			Estimate:         sel.Estimate,
			EstimatedArrival: eta,
		})
		if err == nil {
			return &AssignmentDTO{
				BookingID:        bk.ID(),
				Reference:        bk.Reference(),
				AmbulanceID:      sel.Ambulance.ID(),
				VehicleNumber:    sel.Ambulance.VehicleNumber(),
				DistanceMeters:   sel.Estimate.DistanceMeters,
				DurationSeconds:  sel.Estimate.DurationSeconds,
				EstimatedArrival: eta,
				Candidates:       sel.Located,
				Routed:           sel.Routed,
			}, nil
		}
		if !errors.Is(err, dispatch.ErrAssignmentConflict) || retry >= s.opts.MaxConflictRetries {
			return nil, err
		}

		current, ferr := s.bookings.FindByID(ctx, bk.ID())
		if ferr != nil || current.Status() != bookingDomain.StatusPending {
			return nil, err
		}
		s.logger.Debug("assignment lost to a concurrent dispatch, reselecting",
			zap.String("booking_id", bk.ID().String()),
			zap.String("ambulance_id", sel.Ambulance.ID().String()),
		)
		pool = without(pool, sel.Ambulance.ID())
	}
}

func (s *DispatchService) recordFailure(ctx context.Context, bk *bookingDomain.Booking, cause error) {
	// Recorded even when the attempt context has expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	reason := dispatch.Reason(cause)
	at := s.now().UTC()
	if err := s.bookings.RecordDispatchFailure(ctx, bk.ID(), reason, at); err != nil {
		if domain.IsConflict(err) {
			return
		}
		s.logger.Error("failed to record dispatch failure",
			zap.String("booking_id", bk.ID().String()),
			zap.Error(err),
		)
	}

	s.logger.Warn("dispatch attempt failed",
		zap.String("booking_id", bk.ID().String()),
		zap.String("reason", reason),
		zap.Int("attempt", bk.Dispatch().Attempts+1),
		zap.Error(cause),
	)
	publishEvent(ctx, s.publisher, s.logger, events.TopicDispatchEvents, events.BookingDispatchFailed, bk.ID().String(),
		events.DispatchFailedEvent{
			BookingID:  bk.ID(),
			Reference:  bk.Reference(),
			Reason:     reason,
			Attempts:   bk.Dispatch().Attempts + 1,
			OccurredAt: at,
		})
}

// Backlog lists pending bookings, oldest first.
func (s *DispatchService) Backlog(ctx context.Context, limit int) ([]BookingDTO, error) {
	bookings, err := s.bookings.FindDispatchBacklog(ctx, s.now().UTC().Add(time.Second), maxBacklogAttempts, limit)
	if err != nil {
		return nil, err
	}
	return toBookingDTOs(bookings), nil
}

// DueForRetry returns pending bookings whose last attempt is older than backoff.
func (s *DispatchService) DueForRetry(ctx context.Context, backoff time.Duration, limit int) ([]uuid.UUID, error) {
	bookings, err := s.bookings.FindDispatchBacklog(ctx, s.now().UTC().Add(-backoff), s.opts.MaxAttempts, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(bookings))
	for i, bk := range bookings {
		ids[i] = bk.ID()
	}
	return ids, nil
}

// Stats returns booking counts by status plus the size of the available fleet.
func (s *DispatchService) Stats(ctx context.Context) (*DispatchStatsDTO, error) {
	counts, err := s.bookings.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	available, err := s.ambulances.FindByStatus(ctx, ambulance.StatusAvailable)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	stats := &DispatchStatsDTO{
		TotalBookings:  total,
		ByStatus:       counts,
		AvailableFleet: len(available),
	}
	if s.queueDepth != nil {
		stats.QueueDepth = s.queueDepth()
	}
	return stats, nil
}

// maxBacklogAttempts lists every pending booking regardless of attempts.
const maxBacklogAttempts = 1 << 30

func without(pool []*ambulance.Ambulance, id uuid.UUID) []*ambulance.Ambulance {
	out := make([]*ambulance.Ambulance, 0, len(pool))
	for _, a := range pool {
		if a.ID() != id {
			out = append(out, a)
		}
	}
	return out
}
