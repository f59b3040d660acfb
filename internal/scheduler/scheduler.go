// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named maintenance routine run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs maintenance jobs. A job that is still running when its next
// tick fires is skipped for that tick.
type Scheduler struct {
	jobs   []Job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// New creates a Scheduler for jobs. Jobs with an empty schedule are disabled.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: newCron(),
	}
}

func newCron() *cron.Cron {
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

// Start registers every enabled job and starts the cron ticker. An invalid
// schedule is an error and nothing is started.
func (s *Scheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, job := range s.jobs {
		if job.Schedule == "" {
			slog.Info("maintenance job disabled", "name", job.Name)
			continue
		}
		_, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) })
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	slog.Info("cron firing job", "name", job.Name)
	if err := job.Run(s.ctx); err != nil {
		slog.Error("job failed", "name", job.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("job finished", "name", job.Name, "duration_ms", time.Since(start).Milliseconds())
}

// RunNow executes the named job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.Stop()
	s.cron = newCron()
	return s.Start()
}

// Stop stops the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-done.Done()
}
