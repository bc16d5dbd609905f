package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterAndNextRun(t *testing.T) {
	s := NewScheduler(nil)

	if err := s.Register("daily_snapshot", "0 2 * * *", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !s.NextRun("daily_snapshot").IsZero() {
		t.Error("NextRun nonzero before Start")
	}
	if !s.NextRun("unknown").IsZero() {
		t.Error("NextRun for unknown job should be zero")
	}

	s.Start()
	defer func() { <-s.Stop().Done() }()

	next := s.NextRun("daily_snapshot")
	if next.IsZero() {
		t.Fatal("NextRun zero after Start")
	}
	if !next.After(time.Now()) {
		t.Errorf("NextRun %v is not in the future", next)
	}

	// Re-registering replaces the schedule.
	if err := s.Register("daily_snapshot", "30 3 * * *", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if got := s.NextRun("daily_snapshot").Minute(); got != 30 {
		t.Errorf("NextRun minute = %d, want 30", got)
	}
}

func TestRegister_InvalidSpec(t *testing.T) {
	s := NewScheduler(nil)

	err := s.Register("bad", "not a cron spec", func(ctx context.Context) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestExecuteJob(t *testing.T) {
	s := NewScheduler(nil)

	var called bool
	s.executeJob("ok", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !called {
		t.Error("job function not invoked")
	}

	s.executeJob("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})
}
