package analytics

import (
	"context"
	"time"

	"ab-gateway/internal/common/logging"
)

// LogDriver emits every event to the structured log. Useful in development
// and as a cheap audit trail in production.
type LogDriver struct{}

func (d *LogDriver) Name() string { return "log" }

func (d *LogDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	logging.Info("ab experiment",
		logging.String("experiment", experiment),
		logging.String("variant", variant),
		logging.String("instance", instanceID),
		logging.String("timestamp", time.Now().Format(time.RFC3339)),
	)
	return nil
}

func (d *LogDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	logging.Info("ab goal",
		logging.String("goal", goal),
		logging.String("instance", instanceID),
		logging.Any("value", value),
		logging.String("timestamp", time.Now().Format(time.RFC3339)),
	)
	return nil
}

func (d *LogDriver) SendBatch(ctx context.Context, events []Event) error {
	logging.Info("ab events batch",
		logging.Int("count", len(events)),
		logging.Any("events", events),
	)
	return nil
}
