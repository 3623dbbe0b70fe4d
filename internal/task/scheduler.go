package task

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues the credit reset once a day at a fixed UTC hour.
type Scheduler struct {
	client Enqueuer
	hour   int
	now    func() time.Time
}

func NewScheduler(client Enqueuer, hour int) *Scheduler {
	return &Scheduler{client: client, hour: hour, now: func() time.Time { return time.Now().UTC() }}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := nextRunTime(s.now(), s.hour, 0)
		log.Info().Time("nextRun", next).Msg("scheduler: waiting for next credit reset")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.Enqueue(ctx, next); err != nil {
			log.Error().Err(err).Msg("scheduler: failed to enqueue credit reset")
		}
	}
}

// Enqueue submits the reset for the day of at. A task already enqueued for that
// day is not an error.
func (s *Scheduler) Enqueue(ctx context.Context, at time.Time) error {
	t, err := NewCreditResetTask(at)
	if err != nil {
		return err
	}

	info, err := s.client.EnqueueContext(ctx, t)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		log.Debug().Time("scheduledAt", at).Msg("scheduler: credit reset already enqueued")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("taskId", info.ID).Str("queue", info.Queue).Msg("scheduler: credit reset enqueued")
	return nil
}

// nextRunTime returns the first hour:minute UTC strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
