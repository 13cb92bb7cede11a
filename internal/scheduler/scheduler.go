// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownJob is returned by RunNow for a name no job was registered under.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Job is a named task run whenever its cron expression is due.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

type entry struct {
	Job

	mu      sync.Mutex
	running bool
}

// Scheduler runs each job in its own loop. A job never overlaps with itself:
// a tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	entries []*entry
	logger  *log.Logger

	nextTick   func(expr string, ref time.Time) (time.Time, error)
	retryDelay time.Duration
}

// New validates every cron expression and returns a scheduler for jobs.
func New(logger *log.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	gron := gronx.New()
	seen := make(map[string]bool, len(jobs))
	entries := make([]*entry, 0, len(jobs))
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("scheduler: job %q must have a name and a run func", job.Name)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("scheduler: duplicate job %q", job.Name)
		}
		if !gron.IsValid(job.Cron) {
			return nil, fmt.Errorf("scheduler: job %q has invalid cron expression %q", job.Name, job.Cron)
		}
		seen[job.Name] = true
		entries = append(entries, &entry{Job: job})
	}
	return &Scheduler{
		entries: entries,
		logger:  logger,
		nextTick: func(expr string, ref time.Time) (time.Time, error) {
			return gronx.NextTickAfter(expr, ref, false)
		},
		retryDelay: 30 * time.Second,
	}, nil
}

// Run blocks until ctx is done, running jobs as they come due.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		e := e
		s.logger.Printf("scheduler: %s scheduled with cron %q", e.Name, e.Cron)
		g.Go(func() error {
			s.loop(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

// RunNow runs the named job immediately and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.Name == name {
			ran, err := s.runOnce(ctx, e)
			if !ran {
				return fmt.Errorf("scheduler: job %q is already running", name)
			}
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		next, err := s.nextTick(e.Cron, time.Now())
		if err != nil {
			s.logger.Printf("scheduler: %s next tick failed: %v", e.Name, err)
			if !sleep(ctx, s.retryDelay) {
				return
			}
			continue
		}

		if !sleep(ctx, time.Until(next)) {
			return
		}
		if _, err := s.runOnce(ctx, e); err != nil {
			s.logger.Printf("scheduler: %s failed: %v", e.Name, err)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, e *entry) (bool, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false, nil
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	err := e.Run(ctx)
	if err == nil {
		s.logger.Printf("scheduler: %s finished in %s", e.Name, time.Since(start).Round(time.Millisecond))
	}
	return true, err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
