// Package pipeline turns buffered session state into durable rows and
// analytics dispatches. An exposure flush is a single transaction; analytics
// runs strictly after the commit so a sink outage can never roll back data.
package pipeline

import (
	"context"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/defcache"
	"ab-gateway/internal/storage"
)

// PendingExposure is one experiment decision awaiting persistence. Fired is
// the variant actually served; an empty Fired means the experiment had no
// candidates and is recorded with an empty value.
type PendingExposure struct {
	Experiment string
	Goal       string
	Fired      string
}

// EventPipeline couples storage, the definition cache and analytics into the
// two write paths the rest of the system uses.
type EventPipeline struct {
	store       storage.Store
	definitions *defcache.Cache
	analytics   *analytics.Manager
}

// New creates the pipeline. The analytics manager may not be nil; callers
// that want no analytics configure the none driver.
func New(store storage.Store, definitions *defcache.Cache, manager *analytics.Manager) *EventPipeline {
	return &EventPipeline{
		store:       store,
		definitions: definitions,
		analytics:   manager,
	}
}

// RecordExposures flushes pending exposures for an instance in one
// transaction. Definition ids resolve through the cache with the
// transaction's own find-or-create as the fallback, so a first hit for a new
// experiment stays inside the same unit of work. Analytics fires only after
// the commit, once per exposure with a non-empty variant.
func (p *EventPipeline) RecordExposures(ctx context.Context, instance *storage.Instance, pending []PendingExposure) error {
	if instance == nil || len(pending) == 0 {
		return nil
	}

	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		for _, exp := range pending {
			experimentID, err := p.definitions.GetOrCreate(ctx, exp.Experiment, exp.Goal, tx.FindOrCreateExperiment)
			if err != nil {
				return err
			}
			if err := tx.CreateExposure(ctx, instance.ID, experimentID, exp.Experiment, exp.Fired); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, exp := range pending {
		if exp.Fired == "" {
			continue
		}
		p.analytics.TrackExperiment(ctx, exp.Experiment, exp.Fired, instance.Instance)
	}

	logging.Debug("flushed exposures",
		logging.String("instance", instance.Instance),
		logging.Int("count", len(pending)),
	)
	return nil
}

// RecordGoal persists one goal hit and dispatches it to analytics. A nil
// instance is a silent no-op: goals fired before any experiment ran have no
// subject to attach to.
func (p *EventPipeline) RecordGoal(ctx context.Context, instance *storage.Instance, goal string, value *string) (*storage.Goal, error) {
	if instance == nil {
		return nil, nil
	}

	row, err := p.store.CreateGoal(ctx, instance.ID, goal, value)
	if err != nil {
		return nil, err
	}

	var v interface{}
	if value != nil {
		v = *value
	}
	p.analytics.TrackGoal(ctx, goal, instance.Instance, v)

	return row, nil
}
