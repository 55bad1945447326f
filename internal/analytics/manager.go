package analytics

import (
	"context"
	"fmt"
	"time"

	"ab-gateway/internal/common/logging"
)

// Manager wraps the selected driver behind a failure boundary. Every public
// method catches, warn-logs and swallows driver errors. Dispatch calls carry
// a bounded timeout so a slow sink cannot stall the caller; a timed-out
// dispatch is a caught failure, not retried.
type Manager struct {
	driver  Driver
	timeout time.Duration
	logger  logging.Logger
}

// NewManager resolves the configured driver and returns the manager.
// An unknown driver name is a construction-time error.
func NewManager(cfg Config, logger logging.Logger) (*Manager, error) {
	driver, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		driver:  driver,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Driver returns the name of the wrapped driver.
func (m *Manager) Driver() string {
	return m.driver.Name()
}

// TrackExperiment reports one variant exposure to the sink.
func (m *Manager) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) {
	m.dispatch(ctx, "experiment", func(ctx context.Context) error {
		return m.driver.TrackExperiment(ctx, experiment, variant, instanceID)
	})
}

// TrackGoal reports one goal conversion to the sink.
func (m *Manager) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) {
	m.dispatch(ctx, "goal", func(ctx context.Context) error {
		return m.driver.TrackGoal(ctx, goal, instanceID, value)
	})
}

// SendBatch reports a mixed batch of events to the sink.
func (m *Manager) SendBatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	m.dispatch(ctx, "batch", func(ctx context.Context) error {
		return m.driver.SendBatch(ctx, events)
	})
}

// dispatch runs fn under the manager's timeout and absorbs every failure,
// including panics raised inside custom drivers.
func (m *Manager) dispatch(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("driver panic: %v", r)
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		m.logger.Warn("analytics dispatch failed",
			logging.String("driver", m.driver.Name()),
			logging.String("event_kind", kind),
			logging.Err(err),
		)
	}
}
