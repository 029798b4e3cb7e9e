package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper/internal/clock"

	"github.com/robfig/cron/v3"
)

// Sweeper purges entries that are no longer live at now.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Recorder receives the number of entries each sweep removed.
type Recorder interface {
	Swept(store string, n int)
}

// Job names a sweeper so its results can be logged and counted.
type Job struct {
	Name    string
	Sweeper Sweeper
}

type Scheduler struct {
	schedule string
	jobs     []Job
	clock    clock.Clock
	logger   *slog.Logger
	recorder Recorder
	c        *cron.Cron
}

func NewScheduler(schedule string, jobs []Job, clk clock.Clock, logger *slog.Logger, recorder Recorder) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		jobs:     jobs,
		clock:    clk,
		logger:   logger.With("component", "scheduler"),
		recorder: recorder,
		c:        cron.New(),
	}
}

// Start registers the sweep on the cron schedule and starts the cron runner.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		return nil
	}
	if _, err := s.c.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", s.schedule, err)
	}
	s.c.Start()
	return nil
}

// RunOnce runs every sweeper once.
func (s *Scheduler) RunOnce() {
	now := s.clock.Now()
	for _, job := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := job.Sweeper.Sweep(ctx, now)
		cancel()
		if err != nil {
			s.logger.Error("Sweep failed", "store", job.Name, "error", err)
			continue
		}
		if s.recorder != nil {
			s.recorder.Swept(job.Name, n)
		}
		if n > 0 {
			s.logger.Debug("Swept stale entries", "store", job.Name, "removed", n)
		}
	}
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
