package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BacklogSource lists pending bookings due for another attempt.
type BacklogSource interface {
	DueForRetry(ctx context.Context, backoff time.Duration, limit int) ([]uuid.UUID, error)
}

// Enqueuer accepts dispatch jobs.
type Enqueuer interface {
	Enqueue(bookingID uuid.UUID) bool
}

// RetrySweeper periodically re-queues pending bookings whose last attempt is
// older than the backoff. Bookings past the attempt cap are left to operators.
type RetrySweeper struct {
	source   BacklogSource
	queue    Enqueuer
	interval time.Duration
	backoff  time.Duration
	batch    int
	logger   *zap.Logger
}

// NewRetrySweeper creates a new RetrySweeper.
func NewRetrySweeper(source BacklogSource, queue Enqueuer, interval, backoff time.Duration, batch int, logger *zap.Logger) *RetrySweeper {
	if batch <= 0 {
		batch = 100
	}
	return &RetrySweeper{
		source:   source,
		queue:    queue,
		interval: interval,
		backoff:  backoff,
		batch:    batch,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *RetrySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep queues one batch and returns how many bookings were accepted.
func (s *RetrySweeper) Sweep(ctx context.Context) int {
	ids, err := s.source.DueForRetry(ctx, s.backoff, s.batch)
	if err != nil {
		s.logger.Error("failed to load dispatch backlog", zap.Error(err))
		return 0
	}

	queued := 0
	for _, id := range ids {
		if !s.queue.Enqueue(id) {
			break
		}
		queued++
	}
	if queued > 0 {
		sweptTotal.Add(float64(queued))
		s.logger.Info("re-queued pending bookings", zap.Int("count", queued), zap.Int("due", len(ids)))
	}
	return queued
}
