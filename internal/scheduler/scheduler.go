// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"finsync/internal/log"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) Name() string                  { return j.JobName }

// Scheduler wraps a cron runner. Jobs run with the context given to Start and
// never overlap with themselves.
type Scheduler struct {
	cron    *cron.Cron
	logger  *log.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. timeout bounds a single job run; zero means no
// bound beyond the scheduler context.
func New(timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  log.WithComponent(log.ComponentScheduler),
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// ValidateSchedule reports whether spec is a valid five-field cron expression
// or descriptor such as "@daily" or "@every 1h".
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// AddJob registers job on schedule. An empty schedule disables the job.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if schedule == "" {
		s.logger.Info("Job disabled", "job", job.Name())
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	s.logger.Info("Job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.RunNow(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "Job failed", "job", job.Name(), log.FieldError, err)
	}
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	start := time.Now()
	s.logger.DebugContext(ctx, "Running job", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "Job completed", "job", job.Name(), log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// Start begins running registered jobs until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("Scheduler started", log.FieldCount, len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
