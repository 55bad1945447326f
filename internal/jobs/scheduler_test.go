package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/storage"
)

// captureDriver records batches handed to the sink.
type captureDriver struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (d *captureDriver) Name() string { return "capture" }

func (d *captureDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	return nil
}

func (d *captureDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	return nil
}

func (d *captureDriver) SendBatch(ctx context.Context, events []analytics.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
	return nil
}

func (d *captureDriver) batch() []analytics.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]analytics.Event(nil), d.events...)
}

type captureFactory struct {
	driver *captureDriver
}

func (f captureFactory) GetType() string                                { return "capture" }
func (f captureFactory) Create(analytics.Config) (analytics.Driver, error) { return f.driver, nil }

func newCaptureManager(t *testing.T) (*analytics.Manager, *captureDriver) {
	t.Helper()

	driver := &captureDriver{}
	analytics.RegisterDriver(captureFactory{driver: driver})
	manager, err := analytics.NewManager(analytics.Config{Driver: "capture", Timeout: time.Second}, nil)
	require.NoError(t, err)
	return manager, driver
}

func seedGoals(t *testing.T, count int) storage.Store {
	t.Helper()

	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	inst, err := store.FindOrCreateInstance(ctx, "visitor", "test", nil)
	require.NoError(t, err)

	value := "9.99"
	for i := 0; i < count; i++ {
		_, err := store.CreateGoal(ctx, inst.ID, "purchase", &value)
		require.NoError(t, err)
	}
	return store
}

func TestExportRecentGoals(t *testing.T) {
	manager, driver := newCaptureManager(t)
	scheduler := NewScheduler(seedGoals(t, 3), manager)

	scheduler.exportRecentGoals()

	events := driver.batch()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, analytics.EventTypeGoal, ev.Type)
		assert.Equal(t, "visitor", ev.Instance)
		assert.Equal(t, "purchase", ev.Goal)
		assert.Equal(t, "9.99", ev.Value)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestExportSkipsWhenEmpty(t *testing.T) {
	manager, driver := newCaptureManager(t)
	scheduler := NewScheduler(seedGoals(t, 0), manager)

	scheduler.exportRecentGoals()
	assert.Empty(t, driver.batch())
}

func TestStart(t *testing.T) {
	manager, _ := newCaptureManager(t)

	t.Run("empty spec is a no-op", func(t *testing.T) {
		scheduler := NewScheduler(seedGoals(t, 0), manager)
		require.NoError(t, scheduler.Start(""))
	})

	t.Run("invalid spec errors", func(t *testing.T) {
		scheduler := NewScheduler(seedGoals(t, 0), manager)
		assert.Error(t, scheduler.Start("not a cron spec"))
	})

	t.Run("valid spec starts and stops", func(t *testing.T) {
		scheduler := NewScheduler(seedGoals(t, 0), manager)
		require.NoError(t, scheduler.Start("@hourly"))
		scheduler.Stop()
	})
}
