package storage

import "time"

// Instance is the stored identity record representing one visitor/session.
// The public id in Instance.Instance is the correlation key used across all
// exposure and goal rows; once created it never changes.
type Instance struct {
	ID         int64             `json:"id"`
	Instance   string            `json:"instance"`
	Identifier string            `json:"identifier,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ExperimentDefinition identifies a distinct test by its (experiment, goal)
// pair. The pair is unique; concurrent first-hits converge on one row.
type ExperimentDefinition struct {
	ID         int64     `json:"id"`
	Experiment string    `json:"experiment"`
	Goal       string    `json:"goal"`
	CreatedAt  time.Time `json:"created_at"`
}

// Exposure records that an instance was shown a variant of an experiment.
// Uniqueness is enforced on (instance, experiment, variant) so repeated
// reporting during one sticky session is idempotent at the storage layer.
type Exposure struct {
	ID           int64     `json:"id"`
	InstanceID   int64     `json:"instance_id"`
	ExperimentID int64     `json:"experiments_id"`
	Name         string    `json:"name"`
	Value        string    `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
}

// Goal is a conversion record. A visitor may convert on the same goal more
// than once, so there is no uniqueness constraint.
type Goal struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	Goal       string    `json:"goal"`
	Value      *string   `json:"value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// VariantStat is one row of a per-experiment report: hits, goal conversions
// and the conversion percentage for a single variant.
type VariantStat struct {
	Condition  string  `json:"condition"`
	Hits       int     `json:"hits"`
	Goals      int     `json:"goals"`
	Conversion float64 `json:"conversion"`
}

// ExperimentSummary is one row of the experiment listing.
type ExperimentSummary struct {
	ID         int64  `json:"id"`
	Experiment string `json:"experiment"`
	Hits       int    `json:"hits"`
}

// ExportedGoal is a goal row joined with its instance public id for export.
type ExportedGoal struct {
	Goal      string    `json:"goal"`
	Value     *string   `json:"value,omitempty"`
	Instance  string    `json:"instance"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportedEvent is an exposure row joined with its experiment and instance
// public identifiers for export.
type ExportedEvent struct {
	Experiment string    `json:"experiment"`
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	Instance   string    `json:"instance"`
	CreatedAt  time.Time `json:"created_at"`
}
