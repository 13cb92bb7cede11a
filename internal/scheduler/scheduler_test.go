package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adhocore/gronx"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestNewValidatesJobs(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name string
		jobs []Job
	}{
		{"invalid cron", []Job{{Name: "sync", Cron: "every minute", Run: noop}}},
		{"missing name", []Job{{Cron: "* * * * *", Run: noop}}},
		{"missing run", []Job{{Name: "sync", Cron: "* * * * *"}}},
		{"duplicate", []Job{{Name: "sync", Cron: "* * * * *", Run: noop}, {Name: "sync", Cron: "0 3 * * *", Run: noop}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(discard(), tt.jobs...); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := New(discard(), Job{Name: "purge", Cron: "0 3 * * *", Run: noop}); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
}

func TestDefaultNextTick(t *testing.T) {
	s, err := New(discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ref := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	next, err := s.nextTick("0 3 * * *", ref)
	if err != nil {
		t.Fatalf("nextTick: %v", err)
	}
	want := time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if !gronx.New().IsValid("*/30 * * * *") {
		t.Fatalf("default sync cron should be valid")
	}
}

func TestRunExecutesJobsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	s, err := New(discard(), Job{Name: "sync", Cron: "* * * * *", Run: func(context.Context) error {
		calls.Add(1)
		return errors.New("transient")
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.nextTick = func(string, time.Time) (time.Time, error) { return time.Now().Add(5 * time.Millisecond), nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want at least 3", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestRunRetriesAfterNextTickError(t *testing.T) {
	var ticks atomic.Int32
	ran := make(chan struct{}, 1)
	s, err := New(discard(), Job{Name: "purge", Cron: "0 3 * * *", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.retryDelay = time.Millisecond
	s.nextTick = func(string, time.Time) (time.Time, error) {
		if ticks.Add(1) == 1 {
			return time.Time{}, errors.New("clock skew")
		}
		return time.Now(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never ran after next tick error")
	}
}

func TestRunNow(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, err := New(discard(),
		Job{Name: "slow", Cron: "0 3 * * *", Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		}},
		Job{Name: "failing", Cron: "0 3 * * *", Run: func(context.Context) error { return errors.New("boom") }},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.RunNow(ctx, "failing"); err == nil || err.Error() != "boom" {
		t.Fatalf("RunNow(failing) = %v, want boom", err)
	}
	if err := s.RunNow(ctx, "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow(missing) = %v, want ErrUnknownJob", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(ctx, "slow") }()
	<-started
	if err := s.RunNow(ctx, "slow"); err == nil {
		t.Fatalf("overlapping run should be refused")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RunNow(slow) = %v", err)
	}
}
