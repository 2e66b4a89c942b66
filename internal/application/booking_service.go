package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	bookingDomain "github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/events"
	"go.uber.org/zap"
)

// Actor identifies the authenticated caller of a use case.
type Actor struct {
	UserID uuid.UUID
	Role   auth.Role
}

func (a Actor) isStaff() bool {
	return a.Role == auth.RoleAdmin || a.Role == auth.RoleDispatcher
}

// eventPublishTimeout bounds how long a booking request waits on the broker.
// The booking is already stored and queued by then.
var eventPublishTimeout = 500 * time.Millisecond

// BookingService is the application service orchestrating booking use cases.
type BookingService struct {
	repo       bookingDomain.BookingRepository
	ambulances ambulance.Repository
	committer  *dispatch.Committer
	queue      Enqueuer
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	ambulances ambulance.Repository,
	committer *dispatch.Committer,
	queue Enqueuer,
	publisher EventPublisher,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		repo:       repo,
		ambulances: ambulances,
		committer:  committer,
		queue:      queue,
		publisher:  publisher,
		logger:     logger,
	}
}

// CreateBooking files a pending booking and queues its first dispatch attempt.
// It returns as soon as the booking is stored; assignment happens in the background.
func (s *BookingService) CreateBooking(ctx context.Context, requesterID *uuid.UUID, req CreateBookingRequest) (*BookingDTO, error) {
	var dropoff *bookingDomain.Location
	if req.Dropoff != nil {
		loc := bookingDomain.Location(*req.Dropoff)
		dropoff = &loc
	}

	bk, err := bookingDomain.NewBooking(
		requesterID,
		bookingDomain.EmergencyType(req.EmergencyType),
		bookingDomain.PatientDetails{
			Name:         req.Patient.Name,
			Age:          req.Patient.Age,
			Contact:      req.Patient.Contact,
			MedicalNotes: req.Patient.MedicalNotes,
		},
		bookingDomain.Location(req.Pickup),
		dropoff,
	)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, bk); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	if !s.queue.Enqueue(bk.ID()) {
		s.logger.Warn("dispatch queue full, booking left for the sweeper",
			zap.String("booking_id", bk.ID().String()),
		)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	publishEvent(pubCtx, s.publisher, s.logger, events.TopicDispatchEvents, events.BookingCreated, bk.ID().String(),
		events.BookingCreatedEvent{
			BookingID:     bk.ID(),
			Reference:     bk.Reference(),
			RequesterID:   bk.RequesterID(),
			EmergencyType: string(bk.EmergencyType()),
			PickupLat:     bk.Pickup().Latitude,
			PickupLng:     bk.Pickup().Longitude,
			OccurredAt:    time.Now().UTC(),
		})

	result := toBookingDTO(bk)
	return &result, nil
}

// GetBooking retrieves a single booking. Patients may only read their own.
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, bk); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// GetBookingByReference looks a booking up by the reference read out to callers.
func (s *BookingService) GetBookingByReference(ctx context.Context, actor Actor, reference string) (*BookingDTO, error) {
	bk, err := s.repo.FindByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, bk); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// GetMyBookings retrieves paginated bookings filed by the requester.
func (s *BookingService) GetMyBookings(ctx context.Context, requesterID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindByRequesterID(ctx, requesterID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// ListAllBookings returns a paginated list of all bookings, optionally by status.
func (s *BookingService) ListAllBookings(ctx context.Context, status string, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	var filter *bookingDomain.BookingStatus
	if status != "" {
		st, err := bookingDomain.ParseBookingStatus(status)
		if err != nil {
			return nil, domain.NewValidationError(err.Error())
		}
		filter = &st
	}

	bookings, total, err := s.repo.ListAll(ctx, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// AcceptBooking is the crew acknowledging an assignment: assigned -> en_route.
func (s *BookingService) AcceptBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, amb, err := s.loadCrewBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	from := bk.Status()
	if err := bk.Accept(); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, dispatch.Transition{
		Name:        "accept",
		BookingID:   bk.ID(),
		BookingFrom: from,
		BookingTo:   bk.Status(),
	}); err != nil {
		return nil, err
	}
	bk.IncrementVersion()

	s.publishStatus(ctx, events.BookingAccepted, bk, amb.ID(), actor.UserID, "")
	result := toBookingDTO(bk)
	return &result, nil
}

// DeclineBooking returns an assigned booking to the queue and frees the ambulance.
func (s *BookingService) DeclineBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, reason string) (*BookingDTO, error) {
	bk, amb, err := s.loadCrewBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	from := bk.Status()
	if err := bk.Requeue(); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, dispatch.Transition{
		Name:             "decline",
		BookingID:        bk.ID(),
		BookingFrom:      from,
		BookingTo:        bk.Status(),
		ReleaseAmbulance: true,
		AmbulanceID:      amb.ID(),
		AmbulanceFrom:    ambulance.StatusEnRoute,
		AmbulanceTo:      ambulance.StatusAvailable,
	}); err != nil {
		return nil, err
	}
	bk.IncrementVersion()

	if !s.queue.Enqueue(bk.ID()) {
		s.logger.Warn("dispatch queue full, booking left for the sweeper",
			zap.String("booking_id", bk.ID().String()),
		)
	}
	s.publishStatus(ctx, events.BookingDeclined, bk, amb.ID(), actor.UserID, reason)

	result := toBookingDTO(bk)
	return &result, nil
}

// ArriveBooking marks the crew on scene: en_route -> arrived.
func (s *BookingService) ArriveBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, amb, err := s.loadCrewBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	from := bk.Status()
	if err := bk.MarkArrived(); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, dispatch.Transition{
		Name:          "arrive",
		BookingID:     bk.ID(),
		BookingFrom:   from,
		BookingTo:     bk.Status(),
		AmbulanceID:   amb.ID(),
		AmbulanceFrom: ambulance.StatusEnRoute,
		AmbulanceTo:   ambulance.StatusOnScene,
	}); err != nil {
		return nil, err
	}
	bk.IncrementVersion()

	s.publishStatus(ctx, events.BookingArrived, bk, amb.ID(), actor.UserID, "")
	result := toBookingDTO(bk)
	return &result, nil
}

// CompleteBooking closes the booking and starts the ambulance's return trip.
func (s *BookingService) CompleteBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, amb, err := s.loadCrewBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	from := bk.Status()
	if err := bk.Complete(); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, dispatch.Transition{
		Name:          "complete",
		BookingID:     bk.ID(),
		BookingFrom:   from,
		BookingTo:     bk.Status(),
		AmbulanceID:   amb.ID(),
		AmbulanceFrom: ambulance.StatusOnScene,
		AmbulanceTo:   ambulance.StatusReturning,
	}); err != nil {
		return nil, err
	}
	bk.IncrementVersion()

	s.publishStatus(ctx, events.BookingCompleted, bk, amb.ID(), actor.UserID, "")
	result := toBookingDTO(bk)
	return &result, nil
}

// CancelBooking cancels a booking that has not reached the patient yet. An
// ambulance already assigned is released back to available.
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, reason string) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, bk); err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleDriver {
		return nil, domain.NewForbiddenError("drivers decline assignments instead of cancelling")
	}

	from := bk.Status()
	ambulanceID := bk.AmbulanceID()
	if err := bk.Cancel(reason); err != nil {
		return nil, err
	}

	t := dispatch.Transition{
		Name:         "cancel",
		BookingID:    bk.ID(),
		BookingFrom:  from,
		BookingTo:    bk.Status(),
		CancelReason: reason,
	}
	if ambulanceID != nil {
		t.ReleaseAmbulance = true
		t.AmbulanceID = *ambulanceID
		t.AmbulanceFrom = ambulance.StatusEnRoute
		t.AmbulanceTo = ambulance.StatusAvailable
	}
	if err := s.apply(ctx, t); err != nil {
		return nil, err
	}
	bk.IncrementVersion()

	var ambID uuid.UUID
	if ambulanceID != nil {
		ambID = *ambulanceID
	}
	s.publishStatus(ctx, events.BookingCancelled, bk, ambID, actor.UserID, reason)
	result := toBookingDTO(bk)
	return &result, nil
}

// CurrentAssignment returns the booking the ambulance is serving.
func (s *BookingService) CurrentAssignment(ctx context.Context, actor Actor, ambulanceID uuid.UUID) (*BookingDTO, error) {
	amb, err := s.ambulances.FindByID(ctx, ambulanceID)
	if err != nil {
		return nil, err
	}
	if !actor.isStaff() && !amb.IsOperatedBy(actor.UserID) {
		return nil, domain.NewForbiddenError("ambulance is not operated by this user")
	}

	bk, err := s.repo.FindActiveByAmbulance(ctx, ambulanceID)
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// --- Helpers ---

// loadCrewBooking loads a booking together with its ambulance and checks the
// caller crews it. Staff may act on behalf of any crew.
func (s *BookingService) loadCrewBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*bookingDomain.Booking, *ambulance.Ambulance, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if bk.AmbulanceID() == nil {
		return nil, nil, domain.NewInvalidStateError(string(bk.Status()), "crew action")
	}
	amb, err := s.ambulances.FindByID(ctx, *bk.AmbulanceID())
	if err != nil {
		return nil, nil, err
	}
	if !actor.isStaff() && !amb.IsOperatedBy(actor.UserID) {
		return nil, nil, domain.NewForbiddenError("booking is not assigned to this user's ambulance")
	}
	return bk, amb, nil
}

func (s *BookingService) authorizeRead(_ context.Context, actor Actor, bk *bookingDomain.Booking) error {
	if actor.Role != auth.RolePatient {
		return nil
	}
	if bk.RequesterID() == nil || *bk.RequesterID() != actor.UserID {
		return domain.NewForbiddenError("booking does not belong to this user")
	}
	return nil
}

func (s *BookingService) apply(ctx context.Context, t dispatch.Transition) error {
	err := s.committer.Apply(ctx, t)
	if errors.Is(err, dispatch.ErrStateConflict) {
		return domain.NewConflictError("booking or ambulance changed concurrently; reload and retry")
	}
	return err
}

func (s *BookingService) publishStatus(ctx context.Context, eventType string, bk *bookingDomain.Booking, ambulanceID, actorID uuid.UUID, reason string) {
	evt := events.BookingStatusEvent{
		BookingID:  bk.ID(),
		Reference:  bk.Reference(),
		Status:     string(bk.Status()),
		ActorID:    &actorID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if ambulanceID != uuid.Nil {
		evt.AmbulanceID = &ambulanceID
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	publishEvent(pubCtx, s.publisher, s.logger, events.TopicDispatchEvents, eventType, bk.ID().String(), evt)
}
