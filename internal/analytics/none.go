package analytics

import "context"

// NoneDriver discards every event. It is the default sink when no analytics
// integration is configured; data still lands in local storage for the
// built-in reports.
type NoneDriver struct{}

func (d *NoneDriver) Name() string { return "none" }

func (d *NoneDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	return nil
}

func (d *NoneDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	return nil
}

func (d *NoneDriver) SendBatch(ctx context.Context, events []Event) error {
	return nil
}
