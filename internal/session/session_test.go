package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ab-gateway/internal/analytics"
	"ab-gateway/internal/common/cache"
	"ab-gateway/internal/common/errors"
	"ab-gateway/internal/defcache"
	"ab-gateway/internal/pipeline"
	"ab-gateway/internal/ratelimit"
	"ab-gateway/internal/storage"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, storage.Store) {
	t.Helper()

	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := cache.NewLocalCache(time.Minute, time.Minute)
	definitions := defcache.New(backend, true, "ab", time.Minute)
	analyticsManager, err := analytics.NewManager(analytics.Config{Driver: "none", Timeout: time.Second}, nil)
	require.NoError(t, err)
	pipe := pipeline.New(store, definitions, analyticsManager)

	limiter := ratelimit.NewLocalLimiter(2, time.Minute)
	return NewManager(store, pipe, limiter, cfg), store
}

func newRequest(cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/pricing?utm=x", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Referer", "https://example.com/")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	}
	return req
}

func TestStart(t *testing.T) {
	manager, store := newTestManager(t, Config{})
	ctx := context.Background()

	t.Run("fresh visitor gets a generated instance with metadata", func(t *testing.T) {
		sess, err := manager.Start(ctx, newRequest(""))
		require.NoError(t, err)
		assert.NotEmpty(t, sess.InstanceID())

		inst, err := store.FindInstance(ctx, sess.InstanceID())
		require.NoError(t, err)
		assert.Equal(t, "test-agent", inst.Metadata["user_agent"])
		assert.Equal(t, "203.0.113.7", inst.Metadata["ip"])
		assert.Equal(t, "https://example.com/", inst.Metadata["referrer"])
	})

	t.Run("cookie resolves the same instance", func(t *testing.T) {
		first, err := manager.Start(ctx, newRequest(""))
		require.NoError(t, err)

		second, err := manager.Start(ctx, newRequest(first.InstanceID()))
		require.NoError(t, err)
		assert.Equal(t, first.Instance().ID, second.Instance().ID)
	})
}

func TestStartParamOverride(t *testing.T) {
	manager, _ := newTestManager(t, Config{RequestParam: "abid", AllowParam: true})
	ctx := context.Background()

	override := func(id string) *http.Request {
		req := newRequest("")
		q := req.URL.Query()
		q.Set("abid", id)
		req.URL.RawQuery = q.Encode()
		return req
	}

	t.Run("param wins over cookie", func(t *testing.T) {
		req := override("forced-visitor")
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie-visitor"})

		sess, err := manager.Start(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "forced-visitor", sess.InstanceID())
	})

	t.Run("overrides are rate limited", func(t *testing.T) {
		// The fixture limiter allows 2 per key; the first subtest spent one.
		_, err := manager.Start(ctx, override("v2"))
		require.NoError(t, err)

		_, err = manager.Start(ctx, override("v3"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	})

	t.Run("param ignored when disabled", func(t *testing.T) {
		disabled, _ := newTestManager(t, Config{RequestParam: "abid", AllowParam: false})
		sess, err := disabled.Start(ctx, override("forced-visitor"))
		require.NoError(t, err)
		assert.NotEqual(t, "forced-visitor", sess.InstanceID())
	})
}

func TestExperimentTracking(t *testing.T) {
	manager, store := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := manager.StartWithID(ctx, "visitor")
	require.NoError(t, err)

	variant := sess.Choice("banner", "blue[50]", "red[50]").Track("click")
	assert.Contains(t, []string{"blue[50]", "red[50]"}, variant)

	t.Run("track is stable within a session", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.Equal(t, variant, sess.Experiment("banner").Track("click"))
		}
	})

	t.Run("active tests reflect tracked experiments", func(t *testing.T) {
		tests := sess.ActiveTests()
		require.Len(t, tests, 1)
		assert.Equal(t, "banner", tests[0].Experiment)
		assert.Equal(t, variant, tests[0].Variant)
		assert.Equal(t, "click", tests[0].Goal)
	})

	t.Run("flush persists and assignment stays sticky", func(t *testing.T) {
		require.NoError(t, sess.Flush(ctx))

		inst, err := store.FindInstance(ctx, "visitor")
		require.NoError(t, err)
		exposures, err := store.ExposuresForInstance(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, exposures, 1)
		assert.Equal(t, variant, exposures[0].Value)

		// A later session for the same visitor keeps the variant.
		for i := 0; i < 10; i++ {
			again, err := manager.StartWithID(ctx, "visitor")
			require.NoError(t, err)
			got := again.Choice("banner", "blue[50]", "red[50]").Track("click")
			assert.Equal(t, variant, got)
		}
	})
}

func TestSelectOption(t *testing.T) {
	manager, _ := newTestManager(t, Config{})
	sess, err := manager.StartWithID(context.Background(), "visitor")
	require.NoError(t, err)

	t.Run("declared option is forced", func(t *testing.T) {
		got := sess.Choice("cta", "buy", "try").SelectOption("try").Track("signup")
		assert.Equal(t, "try", got)
	})

	t.Run("undeclared option falls back to assignment", func(t *testing.T) {
		got := sess.Choice("headline", "bold", "plain").SelectOption("missing").Track("signup")
		assert.Contains(t, []string{"bold", "plain"}, got)
	})
}

func TestSessionGoal(t *testing.T) {
	manager, store := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := manager.StartWithID(ctx, "visitor")
	require.NoError(t, err)

	value := "19.90"
	goal, err := sess.Goal(ctx, "purchase", &value)
	require.NoError(t, err)
	require.NotNil(t, goal)

	inst, err := store.FindInstance(ctx, "visitor")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, goal.InstanceID)
}

func TestFlushResetsPending(t *testing.T) {
	manager, store := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := manager.StartWithID(ctx, "visitor")
	require.NoError(t, err)

	sess.Choice("banner", "a", "b").Track("click")
	require.NoError(t, sess.Flush(ctx))
	require.NoError(t, sess.Flush(ctx), "double flush is harmless")

	assert.Empty(t, sess.ActiveTests())

	inst, err := store.FindInstance(ctx, "visitor")
	require.NoError(t, err)
	exposures, err := store.ExposuresForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, exposures, 1)
}

func TestOverlappingSessionsConverge(t *testing.T) {
	manager, store := newTestManager(t, Config{})
	ctx := context.Background()

	// Two overlapping sessions for the same visitor, neither aware of the
	// other's pending assignment until flush.
	first, err := manager.StartWithID(ctx, "racer")
	require.NoError(t, err)
	second, err := manager.StartWithID(ctx, "racer")
	require.NoError(t, err)

	first.Choice("banner", "a", "b").Track("click")
	second.Choice("banner", "a", "b").Track("click")
	require.NoError(t, first.Flush(ctx))
	require.NoError(t, second.Flush(ctx))

	inst, err := store.FindInstance(ctx, "racer")
	require.NoError(t, err)

	exposures, err := store.ExposuresForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(exposures), 1, fmt.Sprintf("exposures: %v", exposures))
	assert.LessOrEqual(t, len(exposures), 2)
}
