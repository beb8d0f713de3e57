package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically fails jobs that outlived their worker, e.g. after a crash or restart.
type Sweeper struct {
	jobs     *JobManager
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewSweeper schedules JobManager.Sweep with a cron spec such as "@every 1m".
func NewSweeper(jobs *JobManager, schedule string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		jobs:     jobs,
		schedule: schedule,
		timeout:  30 * time.Second,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.RunOnce)
	if err != nil {
		return fmt.Errorf("schedule job sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.Info("job sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.jobs.Sweep(ctx)
	if err != nil {
		s.logger.Error("job sweep failed", zap.Int("swept", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("job sweep finished", zap.Int("swept", n))
	}
}

// Stop halts the scheduler and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("job sweeper stopped")
}
