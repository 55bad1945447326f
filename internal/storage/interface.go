// Package storage persists instances, experiment definitions, exposures and
// goals behind a small find-or-create interface with a transactional unit of
// work for exposure flushes. SQLite and PostgreSQL backends share one
// implementation over database/sql.
package storage

import "context"

// Tx is the unit-of-work surface available inside a transaction. All writes
// for one exposure flush go through a single Tx so a partial failure rolls
// the whole flush back.
type Tx interface {
	// FindOrCreateExperiment resolves the definition row for an
	// (experiment, goal) pair, creating it if absent. A unique-constraint
	// race with a concurrent creator resolves to the winning row.
	FindOrCreateExperiment(ctx context.Context, experiment, goal string) (*ExperimentDefinition, error)

	// CreateExposure appends an exposure row. Re-reporting the same
	// (instance, experiment, variant) is a no-op.
	CreateExposure(ctx context.Context, instanceID, experimentID int64, name, variant string) error
}

// Store is the storage collaborator consumed by the pipeline, the webhook
// gateway and the reporting layer.
type Store interface {
	// FindOrCreateInstance resolves an instance by its public id, creating
	// it with the given identifier and metadata on first contact.
	FindOrCreateInstance(ctx context.Context, publicID, identifier string, metadata map[string]string) (*Instance, error)

	// FindInstance resolves an instance by its public id. Returns a
	// not-found error when no such instance exists.
	FindInstance(ctx context.Context, publicID string) (*Instance, error)

	// ExposuresForInstance returns all exposure rows recorded for an
	// instance, used to restore sticky assignments.
	ExposuresForInstance(ctx context.Context, instanceID int64) ([]Exposure, error)

	// FindOrCreateExperiment is the non-transactional variant used by the
	// definition cache outside an exposure flush.
	FindOrCreateExperiment(ctx context.Context, experiment, goal string) (*ExperimentDefinition, error)

	// CreateGoal appends a goal row unconditionally.
	CreateGoal(ctx context.Context, instanceID int64, goal string, value *string) (*Goal, error)

	// WithTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Reporting queries.
	VariantStats(ctx context.Context, experiment string) ([]VariantStat, error)
	ListExperiments(ctx context.Context) ([]ExperimentSummary, error)
	ExportExperiments(ctx context.Context) ([]ExperimentDefinition, error)
	ExportGoals(ctx context.Context) ([]ExportedGoal, error)
	ExportInstances(ctx context.Context) ([]Instance, error)
	ExportEvents(ctx context.Context) ([]ExportedEvent, error)
	RecentGoals(ctx context.Context, limit int) ([]ExportedGoal, error)

	Ping(ctx context.Context) error
	Close() error
}
