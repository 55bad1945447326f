// Package session carries per-request experiment state. Every request gets
// its own Session value resolved from an instance id, so concurrent requests
// never share assignment state; the only shared collaborators are storage,
// the pipeline and the override rate limiter.
package session

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ab-gateway/internal/common/errors"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/pipeline"
	"ab-gateway/internal/ratelimit"
	"ab-gateway/internal/storage"
)

// CookieName is the cookie carrying the instance id across requests.
const CookieName = "ab_instance"

// Config holds the session-level settings.
type Config struct {
	// RequestParam is the query parameter accepted as an instance id
	// override when AllowParam is set.
	RequestParam string

	// AllowParam enables the override parameter.
	AllowParam bool
}

// Manager resolves instances and opens sessions. The override limiter guards
// the instance-id query parameter against enumeration abuse.
type Manager struct {
	store           storage.Store
	pipeline        *pipeline.EventPipeline
	overrideLimiter ratelimit.Limiter
	config          Config
}

// NewManager creates a session manager. overrideLimiter may be nil when the
// override parameter is disabled.
func NewManager(store storage.Store, pipe *pipeline.EventPipeline, overrideLimiter ratelimit.Limiter, config Config) *Manager {
	return &Manager{
		store:           store,
		pipeline:        pipe,
		overrideLimiter: overrideLimiter,
		config:          config,
	}
}

// Start resolves the instance for an incoming request and opens a session.
// The id comes from the override parameter (rate limited), then the session
// cookie, then a fresh uuid. Prior exposures are loaded so assignments stay
// sticky across requests.
func (m *Manager) Start(ctx context.Context, r *http.Request) (*Session, error) {
	uid := ""

	if m.config.AllowParam && r.URL.Query().Has(m.config.RequestParam) {
		if m.overrideLimiter != nil {
			key := "ab_param_override:" + ratelimit.ClientIP(r)
			allowed, err := m.overrideLimiter.Allow(ctx, key)
			if err != nil {
				logging.Warn("override rate limit check failed", logging.Err(err))
			} else if !allowed {
				return nil, errors.RateLimitError("too many instance id overrides")
			}
		}
		uid = r.URL.Query().Get(m.config.RequestParam)
	}

	if uid == "" {
		if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
			uid = cookie.Value
		}
	}
	if uid == "" {
		uid = uuid.NewString()
	}

	ip := ratelimit.ClientIP(r)
	metadata := map[string]string{
		"user_agent": r.UserAgent(),
		"ip":         ip,
		"referrer":   r.Referer(),
		"url":        r.URL.String(),
	}

	return m.open(ctx, uid, ip, metadata)
}

// StartWithID opens a session for a known instance id outside an HTTP
// request, used by the CLI and tests.
func (m *Manager) StartWithID(ctx context.Context, uid string) (*Session, error) {
	if uid == "" {
		uid = uuid.NewString()
	}
	return m.open(ctx, uid, "cli", nil)
}

func (m *Manager) open(ctx context.Context, uid, identifier string, metadata map[string]string) (*Session, error) {
	instance, err := m.store.FindOrCreateInstance(ctx, uid, identifier, metadata)
	if err != nil {
		return nil, err
	}

	exposures, err := m.store.ExposuresForInstance(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	prior := make(map[string]string, len(exposures))
	for _, e := range exposures {
		prior[e.Name] = e.Value
	}

	return &Session{
		manager:  m,
		instance: instance,
		prior:    prior,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}
