package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ab-gateway/internal/storage"
)

// seedStore records three variants of a banner experiment with different
// conversion rates: winner 2/3, runner-up 1/2, loser 0/1.
func seedStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	hits := map[string]int{"winner": 3, "runner": 2, "loser": 1}
	conversions := map[string]int{"winner": 2, "runner": 1}

	for variant, count := range hits {
		for i := 0; i < count; i++ {
			inst, err := store.FindOrCreateInstance(ctx, fmt.Sprintf("%s-%d", variant, i), "test", nil)
			require.NoError(t, err)

			err = store.WithTx(ctx, func(tx storage.Tx) error {
				def, err := tx.FindOrCreateExperiment(ctx, "banner", "click")
				if err != nil {
					return err
				}
				return tx.CreateExposure(ctx, inst.ID, def.ID, "banner", variant)
			})
			require.NoError(t, err)

			if i < conversions[variant] {
				_, err = store.CreateGoal(ctx, inst.ID, "click", nil)
				require.NoError(t, err)
			}
		}
	}

	return store
}

func TestReport(t *testing.T) {
	service := NewService(seedStore(t))

	stats, err := service.Report(context.Background(), "banner")
	require.NoError(t, err)
	require.Len(t, stats, 3)

	t.Run("sorted by conversion descending", func(t *testing.T) {
		assert.Equal(t, "winner", stats[0].Condition)
		assert.Equal(t, "runner", stats[1].Condition)
		assert.Equal(t, "loser", stats[2].Condition)
	})

	t.Run("conversion rounded to two decimals", func(t *testing.T) {
		assert.Equal(t, 66.67, stats[0].Conversion)
		assert.Equal(t, 50.0, stats[1].Conversion)
		assert.Equal(t, 0.0, stats[2].Conversion)
	})

	t.Run("hits and goals counted", func(t *testing.T) {
		assert.Equal(t, 3, stats[0].Hits)
		assert.Equal(t, 2, stats[0].Goals)
	})
}

func TestReportUnknownExperiment(t *testing.T) {
	service := NewService(seedStore(t))

	stats, err := service.Report(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestList(t *testing.T) {
	service := NewService(seedStore(t))

	summaries, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "banner", summaries[0].Experiment)
	assert.Equal(t, 6, summaries[0].Hits)
}

func TestExport(t *testing.T) {
	service := NewService(seedStore(t))

	export, err := service.Export(context.Background())
	require.NoError(t, err)
	assert.False(t, export.ExportedAt.IsZero())
	assert.Len(t, export.Experiments, 1)
	assert.Len(t, export.Goals, 3)
	assert.Len(t, export.Instances, 6)
	assert.Len(t, export.Events, 6)
}

func newReportServer(t *testing.T) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(NewService(seedStore(t))).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHandlers(t *testing.T) {
	srv := newReportServer(t)

	t.Run("list experiments", func(t *testing.T) {
		var body struct {
			Success     bool                        `json:"success"`
			Experiments []storage.ExperimentSummary `json:"experiments"`
		}
		code := getJSON(t, srv.URL+"/experiments", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, body.Success)
		require.Len(t, body.Experiments, 1)
		assert.Equal(t, "banner", body.Experiments[0].Experiment)
	})

	t.Run("experiment report", func(t *testing.T) {
		var body struct {
			Success    bool                  `json:"success"`
			Experiment string                `json:"experiment"`
			Variants   []storage.VariantStat `json:"variants"`
		}
		code := getJSON(t, srv.URL+"/experiments/banner", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "banner", body.Experiment)
		require.Len(t, body.Variants, 3)
		assert.Equal(t, "winner", body.Variants[0].Condition)
	})

	t.Run("full export", func(t *testing.T) {
		var body Export
		code := getJSON(t, srv.URL+"/export", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Len(t, body.Instances, 6)
		assert.Len(t, body.Events, 6)
	})
}
