// Package scheduler triggers crawl invocations on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

// Runner executes one crawl invocation.
type Runner interface {
	Run(ctx context.Context) (crawler.Execution, error)
}

// Scheduler wraps a cron instance that fires pipeline invocations. Overlapping
// invocations are permitted; the upsert engine's per-question transactions and
// the storage constraints keep concurrent runs convergent.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
}

// New builds a Scheduler for the given cron spec (standard 5-field syntax).
func New(spec string, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}
	_, err := s.cron.AddFunc(spec, func() {
		exec, err := s.runner.Run(context.Background())
		if err != nil {
			s.logger.Error("scheduled crawl failed",
				zap.Int64("execution_id", exec.ID),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("scheduled crawl completed",
			zap.Int64("execution_id", exec.ID),
			zap.Int("processed", exec.QuestionsProcessed),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns once in-flight jobs finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
