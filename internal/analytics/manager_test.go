package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyDriver struct {
	calls int
	err   error
	panic bool
}

func (d *flakyDriver) Name() string { return "flaky" }

func (d *flakyDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	d.calls++
	if d.panic {
		panic("driver exploded")
	}
	return d.err
}

func (d *flakyDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	d.calls++
	return d.err
}

func (d *flakyDriver) SendBatch(ctx context.Context, events []Event) error {
	d.calls++
	return d.err
}

type flakyFactory struct {
	driver *flakyDriver
}

func (f flakyFactory) GetType() string                          { return "flaky" }
func (f flakyFactory) Create(Config) (Driver, error)            { return f.driver, nil }

func TestNewManagerUnknownDriver(t *testing.T) {
	_, err := NewManager(Config{Driver: "does-not-exist"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analytics driver")
}

func TestNewManagerBundledDrivers(t *testing.T) {
	for _, name := range []string{"none", "log", "google", "plausible", "webhook"} {
		t.Run(name, func(t *testing.T) {
			m, err := NewManager(Config{Driver: name}, nil)
			require.NoError(t, err)
			assert.Equal(t, name, m.Driver())
		})
	}
}

func TestManagerSwallowsDriverErrors(t *testing.T) {
	driver := &flakyDriver{err: fmt.Errorf("sink down")}
	RegisterDriver(flakyFactory{driver: driver})

	m, err := NewManager(Config{Driver: "flaky", Timeout: time.Second}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	m.TrackExperiment(ctx, "banner", "blue", "visitor")
	m.TrackGoal(ctx, "purchase", "visitor", nil)
	m.SendBatch(ctx, []Event{{Type: EventTypeGoal, Goal: "purchase"}})

	assert.Equal(t, 3, driver.calls, "every call reaches the driver despite errors")
}

func TestManagerRecoversDriverPanics(t *testing.T) {
	driver := &flakyDriver{panic: true}
	RegisterDriver(flakyFactory{driver: driver})

	m, err := NewManager(Config{Driver: "flaky", Timeout: time.Second}, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.TrackExperiment(context.Background(), "banner", "blue", "visitor")
	})
}

func TestManagerSkipsEmptyBatch(t *testing.T) {
	driver := &flakyDriver{}
	RegisterDriver(flakyFactory{driver: driver})

	m, err := NewManager(Config{Driver: "flaky", Timeout: time.Second}, nil)
	require.NoError(t, err)

	m.SendBatch(context.Background(), nil)
	assert.Zero(t, driver.calls)
}

func TestManagerDefaultTimeout(t *testing.T) {
	m, err := NewManager(Config{Driver: "none"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, m.timeout)
}
