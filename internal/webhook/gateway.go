// Package webhook ingests goal registrations from external systems over a
// signed HTTP endpoint. The endpoint is idempotent on a caller-supplied key
// and rejects stale or future-dated deliveries.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ab-gateway/internal/common/cache"
	"ab-gateway/internal/common/errors"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/pipeline"
	"ab-gateway/internal/storage"
)

const idempotencyPrefix = "webhook_idempotency:"

// idempotencyRecord is what a completed delivery leaves behind so replays
// can answer with the original result.
type idempotencyRecord struct {
	GoalID     int64 `json:"goal_id"`
	InstanceID int64 `json:"instance_id"`
}

// Config holds the gateway settings.
type Config struct {
	// Tolerance bounds how old a delivery timestamp may be.
	Tolerance time.Duration

	// IdempotencyTTL bounds how long a delivery key blocks replays.
	IdempotencyTTL time.Duration
}

// Gateway handles goal registration deliveries. Signature verification and
// rate limiting wrap it as middleware; the gateway itself sees only
// authenticated traffic.
type Gateway struct {
	store       storage.Store
	pipeline    *pipeline.EventPipeline
	idempotency cache.Cache
	config      Config
}

// NewGateway creates the goal ingestion gateway.
func NewGateway(store storage.Store, pipe *pipeline.EventPipeline, idempotency cache.Cache, config Config) *Gateway {
	return &Gateway{
		store:       store,
		pipeline:    pipe,
		idempotency: idempotency,
		config:      config,
	}
}

// ReceiveGoal processes one delivery. Responses follow a fixed ladder:
// 422 invalid payload or timestamp outside the window, 200 with
// duplicate=true for a replayed key, 404 unknown instance, 201 on commit.
func (g *Gateway) ReceiveGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "Unreadable body",
		})
		return
	}

	payload, details := parseGoalPayload(body)
	if details != nil {
		respond(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"error":   "Validation failed",
			"details": details,
		})
		return
	}

	now := time.Now()
	if payload.Timestamp.After(now) || now.Sub(payload.Timestamp) > g.config.Tolerance {
		respond(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"error":   "Invalid timestamp",
			"message": fmt.Sprintf("Timestamp must be within %.0f seconds of current time", g.config.Tolerance.Seconds()),
		})
		return
	}

	key := idempotencyPrefix + payload.IdempotencyKey
	if cached, found := g.idempotency.Get(ctx, key); found {
		var record idempotencyRecord
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			respond(w, http.StatusOK, map[string]interface{}{
				"success":     true,
				"goal_id":     record.GoalID,
				"instance_id": record.InstanceID,
				"message":     "Goal already registered (idempotent)",
				"duplicate":   true,
			})
			return
		}
		logging.Warn("dropping unreadable idempotency record", logging.String("key", payload.IdempotencyKey))
		_ = g.idempotency.Delete(ctx, key)
	}

	instance, err := g.store.FindInstance(ctx, payload.Instance)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			respond(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "Instance not found",
				"message": "No A/B testing instance found with ID: " + payload.Instance,
			})
			return
		}
		logging.Error("instance lookup failed", err, logging.String("instance", payload.Instance))
		respond(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Internal error",
		})
		return
	}

	goal, err := g.pipeline.RecordGoal(ctx, instance, payload.Goal, payload.Value)
	if err != nil {
		logging.Error("goal registration failed", err,
			logging.String("instance", payload.Instance),
			logging.String("goal", payload.Goal),
		)
		respond(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Internal error",
		})
		return
	}

	record, _ := json.Marshal(idempotencyRecord{GoalID: goal.ID, InstanceID: instance.ID})
	if _, err := g.idempotency.SetNX(ctx, key, string(record), g.config.IdempotencyTTL); err != nil {
		logging.Warn("failed to store idempotency record",
			logging.String("key", payload.IdempotencyKey),
			logging.Err(err),
		)
	}

	respond(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"goal_id":     goal.ID,
		"instance_id": instance.ID,
		"message":     "Goal registered successfully",
	})
}

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("failed to write response", logging.Err(err))
	}
}
