// Package jobs runs the scheduled analytics export. Recent goal conversions
// are pushed to the configured sink in batches on a cron schedule, so sinks
// that were unreachable at dispatch time still receive the data eventually.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/storage"
)

// exportBatchLimit bounds how many goals one scheduled run pushes.
const exportBatchLimit = 500

// Scheduler owns the cron runner and the export job.
type Scheduler struct {
	cron      *cron.Cron
	store     storage.Store
	analytics *analytics.Manager
}

// NewScheduler creates the job scheduler.
func NewScheduler(store storage.Store, manager *analytics.Manager) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		store:     store,
		analytics: manager,
	}
}

// Start registers the export job under spec and starts the runner.
// An empty spec is a no-op so deployments without a schedule skip the job
// entirely.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(spec, s.exportRecentGoals); err != nil {
		return err
	}

	s.cron.Start()
	logging.Info("scheduled analytics export started", logging.String("schedule", spec))
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) exportRecentGoals() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	goals, err := s.store.RecentGoals(ctx, exportBatchLimit)
	if err != nil {
		logging.Error("scheduled export: failed to load recent goals", err)
		return
	}
	if len(goals) == 0 {
		return
	}

	events := make([]analytics.Event, 0, len(goals))
	for _, g := range goals {
		var value interface{}
		if g.Value != nil {
			value = *g.Value
		}
		events = append(events, analytics.Event{
			Type:      analytics.EventTypeGoal,
			Instance:  g.Instance,
			Goal:      g.Goal,
			Value:     value,
			Timestamp: g.CreatedAt,
		})
	}

	s.analytics.SendBatch(ctx, events)
	logging.Info("scheduled analytics export completed", logging.Int("events", len(events)))
}
