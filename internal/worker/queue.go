// Package worker runs dispatch attempts in the background.
package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"go.uber.org/zap"
)

// DispatchFunc runs one dispatch attempt for a booking.
type DispatchFunc func(ctx context.Context, bookingID uuid.UUID) error

// DispatchQueue is a bounded queue drained by a fixed set of workers.
// A booking is held at most once between Enqueue and the end of its attempt.
type DispatchQueue struct {
	jobs     chan uuid.UUID
	dispatch DispatchFunc
	workers  int
	logger   *zap.Logger

	mu      sync.Mutex
	holding map[uuid.UUID]struct{}
}

// NewDispatchQueue creates a queue of the given capacity served by workers goroutines.
func NewDispatchQueue(size, workers int, fn DispatchFunc, logger *zap.Logger) *DispatchQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &DispatchQueue{
		jobs:     make(chan uuid.UUID, size),
		dispatch: fn,
		workers:  workers,
		logger:   logger,
		holding:  make(map[uuid.UUID]struct{}),
	}
}

// Enqueue schedules an attempt and never blocks. It returns false when the
// queue is full; the booking stays pending for the sweeper.
func (q *DispatchQueue) Enqueue(bookingID uuid.UUID) bool {
	q.mu.Lock()
	if _, ok := q.holding[bookingID]; ok {
		q.mu.Unlock()
		return true
	}
	q.holding[bookingID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- bookingID:
		queueDepth.Set(float64(len(q.jobs)))
		return true
	default:
		q.release(bookingID)
		queueDropped.Inc()
		q.logger.Warn("dispatch queue full, job dropped",
			zap.String("booking_id", bookingID.String()),
			zap.Int("capacity", cap(q.jobs)),
		)
		return false
	}
}

// Len returns the number of queued jobs.
func (q *DispatchQueue) Len() int { return len(q.jobs) }

// Run starts the workers and blocks until ctx is cancelled and every
// in-progress attempt has returned.
func (q *DispatchQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	q.logger.Info("dispatch workers started", zap.Int("workers", q.workers))
	wg.Wait()
	q.logger.Info("dispatch workers stopped")
}

func (q *DispatchQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			queueDepth.Set(float64(len(q.jobs)))
			q.process(ctx, id)
		}
	}
}

func (q *DispatchQueue) process(ctx context.Context, bookingID uuid.UUID) {
	defer q.release(bookingID)

	err := q.dispatch(ctx, bookingID)
	switch {
	case err == nil:
		jobsTotal.WithLabelValues("assigned").Inc()
	case dispatch.IsRetriable(err):
		jobsTotal.WithLabelValues(dispatch.Reason(err)).Inc()
		q.logger.Info("booking left pending",
			zap.String("booking_id", bookingID.String()),
			zap.String("reason", dispatch.Reason(err)),
		)
	case domain.KindOf(err) == domain.KindInvalidState, domain.IsNotFound(err):
		jobsTotal.WithLabelValues("skipped").Inc()
		q.logger.Debug("dispatch skipped",
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	default:
		jobsTotal.WithLabelValues("error").Inc()
		q.logger.Error("dispatch attempt failed",
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}

func (q *DispatchQueue) release(bookingID uuid.UUID) {
	q.mu.Lock()
	delete(q.holding, bookingID)
	q.mu.Unlock()
}
