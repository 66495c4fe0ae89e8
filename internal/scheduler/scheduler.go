// Package scheduler runs named periodic jobs on cron schedules: the fallback
// reconcile while the change feed is down and change-log pruning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/logging"
)

// Scheduler errors.
var (
	ErrStopped        = errors.New("scheduler is stopped")
	ErrNotScheduled   = errors.New("job is not scheduled")
	ErrAlreadyRunning = errors.New("job already running")
)

// JobFunc is invoked on every tick of a job's schedule.
type JobFunc func(ctx context.Context) error

// JobStatus describes a scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entry    cron.EntryID
	schedule string
	fn       JobFunc
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler manages named cron jobs. A tick is skipped while the previous
// run of the same job is still in progress.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// New creates a stopped scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(newParser())),
		logger: logging.Component("scheduler"),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every formats a fixed-interval schedule ("@every 30s").
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add schedules fn under name, replacing any job with the same name.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if fn == nil {
		return fmt.Errorf("job %s: nil func", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	s.removeLocked(name)

	entry, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		if !s.beginLocked(name) {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.run(name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.jobs[name] = &job{entry: entry, schedule: spec, fn: fn}
	s.logger.Debug().
		Str("job", name).
		Str("schedule", spec).
		Time("next_run", s.cron.Entry(entry).Next).
		Msg("job scheduled")
	return nil
}

// Remove unschedules a job. Removing an unknown job is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entry)
		delete(s.jobs, name)
		s.logger.Debug().Str("job", name).Msg("job removed")
	}
}

// IsScheduled reports whether name has a schedule.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Debug().Int("jobs", count).Msg("scheduler started")
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a scheduled job now, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotScheduled)
	}
	if j.running {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}

	s.beginLocked(name)
	go s.run(name)
	return nil
}

func (s *Scheduler) beginLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok || s.stopped || j.running {
		return false
	}
	j.running = true
	s.wg.Add(1)
	return true
}

func (s *Scheduler) run(name string) {
	defer s.wg.Done()

	s.mu.Lock()
	j := s.jobs[name]
	s.mu.Unlock()
	if j == nil {
		return
	}

	start := time.Now()
	err := j.fn(s.ctx)

	s.mu.Lock()
	j.running = false
	j.lastErr = err
	if err == nil {
		j.lastRun = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	s.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("job completed")
}

// Status returns the state of every scheduled job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := JobStatus{
			Name:     name,
			Schedule: j.schedule,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entry).Next,
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateSchedule checks a schedule expression without scheduling anything.
func ValidateSchedule(spec string) error {
	if _, err := newParser().Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}
