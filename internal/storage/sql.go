package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"ab-gateway/internal/common/errors"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open connects to the configured database, runs migrations and returns the
// store. dbType is "sqlite" or "postgres"; dsn is the file path for SQLite
// or a connection string for PostgreSQL.
func Open(dbType, dsn string) (*SQLStore, error) {
	var driver string
	var dialect string

	switch dbType {
	case "sqlite":
		driver, dialect = "sqlite3", DialectSQLite
	case "postgres", "postgresql":
		driver, dialect = "pgx", DialectPostgres
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", dbType))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.StorageError("failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.StorageError("failed to ping database", err)
	}

	store := &SQLStore{db: db, dialect: dialect}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.StorageError("failed to migrate database", err)
	}

	return store, nil
}

// PostgresDSN builds a pgx connection string from discrete settings.
func PostgresDSN(host, port, dbname, user, password, sslMode string) string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		host, port, dbname, user, password, sslMode)
}

func (s *SQLStore) migrate() error {
	var queries []string

	if s.dialect == DialectPostgres {
		queries = []string{
			`CREATE TABLE IF NOT EXISTS ab_instances (
				id BIGSERIAL PRIMARY KEY,
				instance TEXT NOT NULL UNIQUE,
				identifier TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS ab_experiments (
				id BIGSERIAL PRIMARY KEY,
				experiment TEXT NOT NULL,
				goal TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (experiment, goal)
			)`,
			`CREATE TABLE IF NOT EXISTS ab_events (
				id BIGSERIAL PRIMARY KEY,
				instance_id BIGINT NOT NULL REFERENCES ab_instances (id),
				experiments_id BIGINT NOT NULL REFERENCES ab_experiments (id),
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (instance_id, experiments_id, value)
			)`,
			`CREATE TABLE IF NOT EXISTS ab_goals (
				id BIGSERIAL PRIMARY KEY,
				instance_id BIGINT NOT NULL REFERENCES ab_instances (id),
				goal TEXT NOT NULL,
				value TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_instances_identifier ON ab_instances(identifier)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_events_instance_id ON ab_events(instance_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_events_name ON ab_events(name)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_goals_instance_id ON ab_goals(instance_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_goals_goal ON ab_goals(goal)`,
		}
	} else {
		queries = []string{
			`CREATE TABLE IF NOT EXISTS ab_instances (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				instance TEXT NOT NULL UNIQUE,
				identifier TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS ab_experiments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				experiment TEXT NOT NULL,
				goal TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (experiment, goal)
			)`,
			`CREATE TABLE IF NOT EXISTS ab_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				instance_id INTEGER NOT NULL REFERENCES ab_instances (id),
				experiments_id INTEGER NOT NULL REFERENCES ab_experiments (id),
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (instance_id, experiments_id, value)
			)`,
			`CREATE TABLE IF NOT EXISTS ab_goals (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				instance_id INTEGER NOT NULL REFERENCES ab_instances (id),
				goal TEXT NOT NULL,
				value TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_instances_identifier ON ab_instances(identifier)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_events_instance_id ON ab_events(instance_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_events_name ON ab_events(name)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_goals_instance_id ON ab_goals(instance_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ab_goals_goal ON ab_goals(goal)`,
		}
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// rebind converts ?-style placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) FindOrCreateInstance(ctx context.Context, publicID, identifier string, metadata map[string]string) (*Instance, error) {
	if inst, err := s.findInstance(ctx, s.db, publicID); err == nil {
		return inst, nil
	} else if !errors.IsType(err, errors.ErrTypeNotFound) {
		return nil, err
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, errors.StorageError("failed to encode instance metadata", err)
		}
		metaJSON = string(raw)
	}

	// A concurrent creator may win the insert; ON CONFLICT DO NOTHING turns
	// the duplicate-key failure into a re-fetch of the winning row.
	query := s.rebind(`INSERT INTO ab_instances (instance, identifier, metadata)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, publicID, identifier, metaJSON); err != nil {
		return nil, errors.StorageError("failed to create instance", err)
	}

	return s.findInstance(ctx, s.db, publicID)
}

func (s *SQLStore) FindInstance(ctx context.Context, publicID string) (*Instance, error) {
	return s.findInstance(ctx, s.db, publicID)
}

func (s *SQLStore) findInstance(ctx context.Context, q querier, publicID string) (*Instance, error) {
	query := s.rebind(`SELECT id, instance, identifier, metadata, created_at
		FROM ab_instances WHERE instance = ?`)

	inst := &Instance{}
	var metaJSON string
	err := q.QueryRowContext(ctx, query, publicID).Scan(
		&inst.ID, &inst.Instance, &inst.Identifier, &metaJSON, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("instance")
	}
	if err != nil {
		return nil, errors.StorageError("failed to get instance", err)
	}

	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &inst.Metadata); err != nil {
			return nil, errors.StorageError("failed to decode instance metadata", err)
		}
	}

	return inst, nil
}

func (s *SQLStore) ExposuresForInstance(ctx context.Context, instanceID int64) ([]Exposure, error) {
	query := s.rebind(`SELECT id, instance_id, experiments_id, name, value, created_at
		FROM ab_events WHERE instance_id = ? ORDER BY created_at`)

	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, errors.StorageError("failed to get exposures", err)
	}
	defer rows.Close()

	var exposures []Exposure
	for rows.Next() {
		var e Exposure
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.ExperimentID, &e.Name, &e.Value, &e.CreatedAt); err != nil {
			return nil, errors.StorageError("failed to scan exposure", err)
		}
		exposures = append(exposures, e)
	}

	return exposures, rows.Err()
}

func (s *SQLStore) FindOrCreateExperiment(ctx context.Context, experiment, goal string) (*ExperimentDefinition, error) {
	return s.findOrCreateExperiment(ctx, s.db, experiment, goal)
}

func (s *SQLStore) findOrCreateExperiment(ctx context.Context, q querier, experiment, goal string) (*ExperimentDefinition, error) {
	selectQuery := s.rebind(`SELECT id, experiment, goal, created_at
		FROM ab_experiments WHERE experiment = ? AND goal = ?`)

	def := &ExperimentDefinition{}
	err := q.QueryRowContext(ctx, selectQuery, experiment, goal).Scan(
		&def.ID, &def.Experiment, &def.Goal, &def.CreatedAt)
	if err == nil {
		return def, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.StorageError("failed to get experiment", err)
	}

	insertQuery := s.rebind(`INSERT INTO ab_experiments (experiment, goal)
		VALUES (?, ?) ON CONFLICT DO NOTHING`)
	if _, err := q.ExecContext(ctx, insertQuery, experiment, goal); err != nil {
		return nil, errors.StorageError("failed to create experiment", err)
	}

	err = q.QueryRowContext(ctx, selectQuery, experiment, goal).Scan(
		&def.ID, &def.Experiment, &def.Goal, &def.CreatedAt)
	if err != nil {
		return nil, errors.StorageError("failed to re-fetch experiment", err)
	}

	return def, nil
}

func (s *SQLStore) createExposure(ctx context.Context, q querier, instanceID, experimentID int64, name, variant string) error {
	query := s.rebind(`INSERT INTO ab_events (instance_id, experiments_id, name, value)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if _, err := q.ExecContext(ctx, query, instanceID, experimentID, name, variant); err != nil {
		return errors.StorageError("failed to create exposure", err)
	}
	return nil
}

func (s *SQLStore) CreateGoal(ctx context.Context, instanceID int64, goal string, value *string) (*Goal, error) {
	g := &Goal{InstanceID: instanceID, Goal: goal, Value: value}

	if s.dialect == DialectPostgres {
		query := `INSERT INTO ab_goals (instance_id, goal, value)
			VALUES ($1, $2, $3) RETURNING id, created_at`
		err := s.db.QueryRowContext(ctx, query, instanceID, goal, value).Scan(&g.ID, &g.CreatedAt)
		if err != nil {
			return nil, errors.StorageError("failed to create goal", err)
		}
		return g, nil
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ab_goals (instance_id, goal, value) VALUES (?, ?, ?)`,
		instanceID, goal, value)
	if err != nil {
		return nil, errors.StorageError("failed to create goal", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.StorageError("failed to get last insert id", err)
	}
	g.ID = id

	row := s.db.QueryRowContext(ctx, `SELECT created_at FROM ab_goals WHERE id = ?`, id)
	if err := row.Scan(&g.CreatedAt); err != nil {
		return nil, errors.StorageError("failed to read back goal", err)
	}

	return g, nil
}

// sqlTx adapts an open *sql.Tx to the Tx unit-of-work interface.
type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) FindOrCreateExperiment(ctx context.Context, experiment, goal string) (*ExperimentDefinition, error) {
	return t.store.findOrCreateExperiment(ctx, t.tx, experiment, goal)
}

func (t *sqlTx) CreateExposure(ctx context.Context, instanceID, experimentID int64, name, variant string) error {
	return t.store.createExposure(ctx, t.tx, instanceID, experimentID, name, variant)
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin transaction", err)
	}

	if err := fn(&sqlTx{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.StorageError("rollback failed", rbErr).WithContext("cause", err.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("failed to commit transaction", err)
	}

	return nil
}

func (s *SQLStore) VariantStats(ctx context.Context, experiment string) ([]VariantStat, error) {
	hitsQuery := s.rebind(`SELECT value, COUNT(*) AS hits
		FROM ab_events WHERE name = ? GROUP BY value`)

	rows, err := s.db.QueryContext(ctx, hitsQuery, experiment)
	if err != nil {
		return nil, errors.StorageError("failed to get variant hits", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	var stats []VariantStat
	for rows.Next() {
		var stat VariantStat
		if err := rows.Scan(&stat.Condition, &stat.Hits); err != nil {
			return nil, errors.StorageError("failed to scan variant hits", err)
		}
		index[stat.Condition] = len(stats)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("failed to read variant hits", err)
	}

	goalsQuery := s.rebind(`SELECT ab_events.value, COUNT(ab_events.value) AS goals
		FROM ab_events
		JOIN ab_goals ON ab_goals.instance_id = ab_events.instance_id
		WHERE ab_events.name = ? GROUP BY ab_events.value`)

	goalRows, err := s.db.QueryContext(ctx, goalsQuery, experiment)
	if err != nil {
		return nil, errors.StorageError("failed to get variant goals", err)
	}
	defer goalRows.Close()

	for goalRows.Next() {
		var condition string
		var goals int
		if err := goalRows.Scan(&condition, &goals); err != nil {
			return nil, errors.StorageError("failed to scan variant goals", err)
		}
		if i, ok := index[condition]; ok {
			stats[i].Goals = goals
			if stats[i].Hits > 0 {
				stats[i].Conversion = float64(goals) / float64(stats[i].Hits) * 100
			}
		}
	}

	return stats, goalRows.Err()
}

func (s *SQLStore) ListExperiments(ctx context.Context) ([]ExperimentSummary, error) {
	query := `SELECT ab_experiments.id, MAX(ab_experiments.experiment) AS experiment, COUNT(*) AS hits
		FROM ab_experiments
		JOIN ab_events ON ab_events.experiments_id = ab_experiments.id
		GROUP BY ab_experiments.id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.StorageError("failed to list experiments", err)
	}
	defer rows.Close()

	var summaries []ExperimentSummary
	for rows.Next() {
		var summary ExperimentSummary
		if err := rows.Scan(&summary.ID, &summary.Experiment, &summary.Hits); err != nil {
			return nil, errors.StorageError("failed to scan experiment summary", err)
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

func (s *SQLStore) ExportExperiments(ctx context.Context) ([]ExperimentDefinition, error) {
	query := `SELECT id, experiment, goal, created_at FROM ab_experiments ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.StorageError("failed to export experiments", err)
	}
	defer rows.Close()

	var defs []ExperimentDefinition
	for rows.Next() {
		var def ExperimentDefinition
		if err := rows.Scan(&def.ID, &def.Experiment, &def.Goal, &def.CreatedAt); err != nil {
			return nil, errors.StorageError("failed to scan experiment", err)
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

func (s *SQLStore) ExportGoals(ctx context.Context) ([]ExportedGoal, error) {
	query := `SELECT ab_goals.goal, ab_goals.value, ab_instances.instance, ab_goals.created_at
		FROM ab_goals
		JOIN ab_instances ON ab_instances.id = ab_goals.instance_id
		ORDER BY ab_goals.created_at`

	return s.scanExportedGoals(ctx, query)
}

func (s *SQLStore) RecentGoals(ctx context.Context, limit int) ([]ExportedGoal, error) {
	query := s.rebind(`SELECT ab_goals.goal, ab_goals.value, ab_instances.instance, ab_goals.created_at
		FROM ab_goals
		JOIN ab_instances ON ab_instances.id = ab_goals.instance_id
		ORDER BY ab_goals.created_at DESC LIMIT ?`)

	return s.scanExportedGoals(ctx, query, limit)
}

func (s *SQLStore) scanExportedGoals(ctx context.Context, query string, args ...interface{}) ([]ExportedGoal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError("failed to export goals", err)
	}
	defer rows.Close()

	var goals []ExportedGoal
	for rows.Next() {
		var g ExportedGoal
		if err := rows.Scan(&g.Goal, &g.Value, &g.Instance, &g.CreatedAt); err != nil {
			return nil, errors.StorageError("failed to scan goal", err)
		}
		goals = append(goals, g)
	}

	return goals, rows.Err()
}

func (s *SQLStore) ExportEvents(ctx context.Context) ([]ExportedEvent, error) {
	query := `SELECT ab_experiments.experiment, ab_events.name, ab_events.value,
			ab_instances.instance, ab_events.created_at
		FROM ab_events
		JOIN ab_experiments ON ab_experiments.id = ab_events.experiments_id
		JOIN ab_instances ON ab_instances.id = ab_events.instance_id
		ORDER BY ab_events.created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.StorageError("failed to export events", err)
	}
	defer rows.Close()

	var events []ExportedEvent
	for rows.Next() {
		var e ExportedEvent
		if err := rows.Scan(&e.Experiment, &e.Name, &e.Value, &e.Instance, &e.CreatedAt); err != nil {
			return nil, errors.StorageError("failed to scan event", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *SQLStore) ExportInstances(ctx context.Context) ([]Instance, error) {
	query := `SELECT id, instance, identifier, metadata, created_at
		FROM ab_instances ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.StorageError("failed to export instances", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		var inst Instance
		var metaJSON string
		if err := rows.Scan(&inst.ID, &inst.Instance, &inst.Identifier, &metaJSON, &inst.CreatedAt); err != nil {
			return nil, errors.StorageError("failed to scan instance", err)
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &inst.Metadata); err != nil {
				return nil, errors.StorageError("failed to decode instance metadata", err)
			}
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
