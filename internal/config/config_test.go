package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "abid", cfg.RequestParam)
	assert.False(t, cfg.AllowParam)
	assert.False(t, cfg.WebhookEnabled)
	assert.Equal(t, 300*time.Second, cfg.WebhookTolerance)
	assert.Equal(t, "none", cfg.AnalyticsDriver)
	assert.Equal(t, 5*time.Second, cfg.AnalyticsTimeout)
	assert.Equal(t, "none", cfg.ReportAuth)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AB_CACHE_ENABLED", "false")
	t.Setenv("AB_CACHE_TTL", "30m")
	t.Setenv("AB_WEBHOOK_TOLERANCE", "600")
	t.Setenv("AB_ANALYTICS_DRIVER", "google")
	t.Setenv("AB_PARAM_RATE_LIMIT", "25")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 600*time.Second, cfg.WebhookTolerance)
	assert.Equal(t, "google", cfg.AnalyticsDriver)
	assert.Equal(t, 25, cfg.ParamRateLimit)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("AB_CACHE_ENABLED", "not-a-bool")
	t.Setenv("AB_PARAM_RATE_LIMIT", "lots")
	t.Setenv("AB_CACHE_TTL", "soon")

	cfg := Load()
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 10, cfg.ParamRateLimit)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Load() }

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"unknown database", func(c *Config) { c.DatabaseType = "oracle" }, "DATABASE_TYPE"},
		{"postgres without host", func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = ""
		}, "POSTGRES_HOST"},
		{"redis db out of range", func(c *Config) {
			c.RedisAddress = "localhost:6379"
			c.RedisDB = "42"
		}, "REDIS_DB"},
		{"webhook enabled without secret", func(c *Config) {
			c.WebhookEnabled = true
		}, "AB_WEBHOOK_SECRET"},
		{"webhook secret too short", func(c *Config) {
			c.WebhookEnabled = true
			c.WebhookSecret = "short"
		}, "32 characters"},
		{"unknown analytics driver", func(c *Config) {
			c.AnalyticsDriver = "telepathy"
		}, "AB_ANALYTICS_DRIVER"},
		{"basic auth without credentials", func(c *Config) {
			c.ReportAuth = "basic"
		}, "AB_REPORT_USERNAME"},
		{"token auth with short secret", func(c *Config) {
			c.ReportAuth = "token"
			c.ReportTokenSecret = "short"
		}, "AB_REPORT_TOKEN_SECRET"},
		{"unknown report auth", func(c *Config) {
			c.ReportAuth = "ldap"
		}, "AB_REPORT_AUTH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
