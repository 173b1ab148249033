package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// ErrSchedulerClosed is returned by After once Close has been called.
var ErrSchedulerClosed = errors.New("sender: scheduler closed")

// Scheduler runs one-shot deferred sends. When the timer fires the job is
// handed to the Dispatcher, so it gets the same retry and logging treatment
// as an immediate send. Scheduled jobs cannot be cancelled individually.
type Scheduler struct {
	d *Dispatcher

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler binds a scheduler to d. A nil dispatcher runs jobs inline on the timer goroutine.
func NewScheduler(d *Dispatcher) *Scheduler {
	return &Scheduler{d: d, timers: make(map[*time.Timer]struct{})}
}

// After schedules run to be executed once after delay.
func (s *Scheduler) After(ctx context.Context, delay time.Duration, action string, run func() error) error {
	if run == nil {
		return errors.New("sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.fire(ctx, action, run)
	})
	s.timers[t] = struct{}{}

	logger.Debug(ctx, "tg.sender", "send.scheduled",
		slog.String("action", action),
		slog.Duration("delay", delay),
	)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, action string, run func() error) {
	if s.d == nil {
		if err := run(); err != nil {
			logger.Error(ctx, "tg.sender", "send.fail",
				slog.String("action", action),
				slog.String("err", sanitizeErrorMessage(err)),
			)
		}
		return
	}
	if err := s.d.Enqueue(ctx, action, "deferred", run); err != nil {
		logger.Warn(ctx, "tg.sender", "send.deferred.dropped",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
	}
}

// Pending reports how many jobs have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops timers that have not fired and waits for in-flight ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
