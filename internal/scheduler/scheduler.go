package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a function executed on a cron schedule.
type JobFunc func(ctx context.Context) error

// Scheduler runs named background jobs on cron schedules. Jobs are
// registered before Start and live for the life of the process.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Register schedules fn under the given cron expression. Re-registering a
// name replaces the previous schedule.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.executeJob(name, fn)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.entries[name] = entryID

	s.logger.Info("scheduled job",
		"job_name", name,
		"schedule", spec)

	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()

	s.logger.Info("scheduler started", "jobs_count", count)
}

// Stop stops the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// NextRun returns the next scheduled run for a named job, or the zero time
// if the job is unknown.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[name]
	s.mu.RUnlock()

	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func (s *Scheduler) executeJob(name string, fn JobFunc) {
	ctx := context.Background()
	startTime := time.Now()

	s.logger.Info("executing job", "job_name", name)

	if err := fn(ctx); err != nil {
		s.logger.Error("job execution failed",
			"job_name", name,
			"error", err,
			"duration", time.Since(startTime))
		return
	}

	s.logger.Info("job execution completed",
		"job_name", name,
		"duration", time.Since(startTime))
}
