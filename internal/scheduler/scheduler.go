package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Routine every interval. Ticks never overlap: a tick
// that is due while the previous one still runs is skipped.
type Scheduler struct {
	routine  *Routine
	interval time.Duration
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	entryID  cron.EntryID
	first    sync.WaitGroup
	logger   *slog.Logger
}

// NewScheduler creates a scheduler for routine.
func NewScheduler(routine *Routine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		routine:  routine,
		interval: interval,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Start schedules the routine. The first tick runs right away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	job := cron.FuncJob(func() {
		if s.routine.Closed() {
			return
		}
		_, _ = s.routine.Tick(ctx)
	})
	entryID, err := s.cron.AddJob(fmt.Sprintf("@every %s", s.interval), job)
	if err != nil {
		return fmt.Errorf("failed to schedule routine: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true

	// The wrapped job shares the skip-if-running guard with the schedule.
	wrapped := s.cron.Entry(entryID).WrappedJob
	s.first.Add(1)
	go func() {
		defer s.first.Done()
		wrapped.Run()
	}()

	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop closes the routine and waits for the tick in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.routine.Close()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.first.Wait()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// NextRun returns the next scheduled tick.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger sends cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
