// Package report computes experiment performance summaries and the full
// data export.
package report

import (
	"context"
	"math"
	"sort"
	"time"

	"ab-gateway/internal/storage"
)

// Service answers reporting queries over the store.
type Service struct {
	store storage.Store
}

// NewService creates the reporting service.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Report returns per-variant hits, goal conversions and conversion rate for
// one experiment, best-converting variant first. Conversion is a percentage
// rounded to two decimals.
func (s *Service) Report(ctx context.Context, experiment string) ([]storage.VariantStat, error) {
	stats, err := s.store.VariantStats(ctx, experiment)
	if err != nil {
		return nil, err
	}

	for i := range stats {
		stats[i].Conversion = math.Round(stats[i].Conversion*100) / 100
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Conversion > stats[j].Conversion
	})

	return stats, nil
}

// List returns every experiment that has recorded at least one exposure.
func (s *Service) List(ctx context.Context) ([]storage.ExperimentSummary, error) {
	return s.store.ListExperiments(ctx)
}

// Export is the full-dataset snapshot.
type Export struct {
	ExportedAt  time.Time                      `json:"exported_at"`
	Experiments []storage.ExperimentDefinition `json:"experiments"`
	Goals       []storage.ExportedGoal         `json:"goals"`
	Instances   []storage.Instance             `json:"instances"`
	Events      []storage.ExportedEvent        `json:"events"`
}

// Export collects every experiment, goal, instance and exposure in creation
// order.
func (s *Service) Export(ctx context.Context) (*Export, error) {
	experiments, err := s.store.ExportExperiments(ctx)
	if err != nil {
		return nil, err
	}
	goals, err := s.store.ExportGoals(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := s.store.ExportInstances(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ExportEvents(ctx)
	if err != nil {
		return nil, err
	}

	return &Export{
		ExportedAt:  time.Now(),
		Experiments: experiments,
		Goals:       goals,
		Instances:   instances,
		Events:      events,
	}, nil
}
