package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/common/cache"
	"ab-gateway/internal/defcache"
	"ab-gateway/internal/storage"
)

// recordingDriver captures dispatched events so tests can assert what the
// pipeline sent, and can be told to fail every call.
type recordingDriver struct {
	mu          sync.Mutex
	experiments []string
	goals       []string
	fail        bool
}

func (d *recordingDriver) Name() string { return "recording" }

func (d *recordingDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return fmt.Errorf("sink down")
	}
	d.experiments = append(d.experiments, experiment+"/"+variant)
	return nil
}

func (d *recordingDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return fmt.Errorf("sink down")
	}
	d.goals = append(d.goals, goal)
	return nil
}

func (d *recordingDriver) SendBatch(ctx context.Context, events []analytics.Event) error {
	return nil
}

func (d *recordingDriver) trackedExperiments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.experiments...)
}

func (d *recordingDriver) trackedGoals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.goals...)
}

type recordingFactory struct {
	driver *recordingDriver
}

func (f recordingFactory) GetType() string                               { return "recording" }
func (f recordingFactory) Create(analytics.Config) (analytics.Driver, error) { return f.driver, nil }

func newTestPipeline(t *testing.T, driver *recordingDriver) (*EventPipeline, storage.Store) {
	t.Helper()

	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := cache.NewLocalCache(time.Minute, time.Minute)
	definitions := defcache.New(backend, true, "ab", time.Minute)

	analytics.RegisterDriver(recordingFactory{driver: driver})
	manager, err := analytics.NewManager(analytics.Config{Driver: "recording", Timeout: time.Second}, nil)
	require.NoError(t, err)

	return New(store, definitions, manager), store
}

func TestRecordExposures(t *testing.T) {
	driver := &recordingDriver{}
	pipe, store := newTestPipeline(t, driver)
	ctx := context.Background()

	inst, err := store.FindOrCreateInstance(ctx, "visitor", "", nil)
	require.NoError(t, err)

	pending := []PendingExposure{
		{Experiment: "banner", Goal: "click", Fired: "blue[80]"},
		{Experiment: "headline", Goal: "signup", Fired: "bold"},
	}
	require.NoError(t, pipe.RecordExposures(ctx, inst, pending))

	exposures, err := store.ExposuresForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, exposures, 2)

	assert.ElementsMatch(t,
		[]string{"banner/blue[80]", "headline/bold"},
		driver.trackedExperiments())
}

func TestRecordExposuresSkipsAnalyticsForEmptyVariant(t *testing.T) {
	driver := &recordingDriver{}
	pipe, store := newTestPipeline(t, driver)
	ctx := context.Background()

	inst, err := store.FindOrCreateInstance(ctx, "visitor", "", nil)
	require.NoError(t, err)

	pending := []PendingExposure{{Experiment: "empty", Goal: "click", Fired: ""}}
	require.NoError(t, pipe.RecordExposures(ctx, inst, pending))

	exposures, err := store.ExposuresForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, exposures, 1, "empty variant is still persisted")
	assert.Empty(t, driver.trackedExperiments(), "empty variant is never dispatched")
}

func TestRecordExposuresNoOpInputs(t *testing.T) {
	driver := &recordingDriver{}
	pipe, store := newTestPipeline(t, driver)
	ctx := context.Background()

	inst, err := store.FindOrCreateInstance(ctx, "visitor", "", nil)
	require.NoError(t, err)

	assert.NoError(t, pipe.RecordExposures(ctx, nil, []PendingExposure{{Experiment: "x", Goal: "y", Fired: "z"}}))
	assert.NoError(t, pipe.RecordExposures(ctx, inst, nil))
	assert.Empty(t, driver.trackedExperiments())
}

func TestRecordExposuresSurvivesSinkFailure(t *testing.T) {
	driver := &recordingDriver{fail: true}
	pipe, store := newTestPipeline(t, driver)
	ctx := context.Background()

	inst, err := store.FindOrCreateInstance(ctx, "visitor", "", nil)
	require.NoError(t, err)

	pending := []PendingExposure{{Experiment: "banner", Goal: "click", Fired: "blue"}}
	require.NoError(t, pipe.RecordExposures(ctx, inst, pending), "a failing sink must not fail the flush")

	exposures, err := store.ExposuresForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, exposures, 1, "durable write happens regardless of the sink")
}

func TestRecordGoal(t *testing.T) {
	driver := &recordingDriver{}
	pipe, store := newTestPipeline(t, driver)
	ctx := context.Background()

	inst, err := store.FindOrCreateInstance(ctx, "visitor", "", nil)
	require.NoError(t, err)

	t.Run("persists and dispatches", func(t *testing.T) {
		value := "9.99"
		goal, err := pipe.RecordGoal(ctx, inst, "purchase", &value)
		require.NoError(t, err)
		require.NotNil(t, goal)
		assert.NotZero(t, goal.ID)
		assert.Equal(t, []string{"purchase"}, driver.trackedGoals())
	})

	t.Run("nil instance is a silent no-op", func(t *testing.T) {
		goal, err := pipe.RecordGoal(ctx, nil, "purchase", nil)
		assert.NoError(t, err)
		assert.Nil(t, goal)
	})
}
