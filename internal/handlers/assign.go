// Package handlers exposes the first-party experiment API: variant
// assignment for incoming visitors and direct goal recording.
package handlers

import (
	"encoding/json"
	"net/http"

	"ab-gateway/internal/common/errors"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/session"
)

// Handlers serves the assignment and goal endpoints.
type Handlers struct {
	sessions *session.Manager
}

// New creates the experiment API handlers.
func New(sessions *session.Manager) *Handlers {
	return &Handlers{sessions: sessions}
}

// assignRequest declares the experiments a page wants variants for.
type assignRequest struct {
	Experiments []experimentRequest `json:"experiments"`
}

type experimentRequest struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
	Goal       string   `json:"goal"`
	Force      string   `json:"force,omitempty"`
}

// Assign resolves variants for the declared experiments, persists the
// exposures and returns the assignments together with the instance id. The
// instance id is also set as a cookie so subsequent requests stay sticky.
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Experiments) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "experiments are required")
		return
	}
	for _, exp := range req.Experiments {
		if exp.Name == "" || exp.Goal == "" {
			writeError(w, http.StatusUnprocessableEntity, "every experiment needs a name and a goal")
			return
		}
	}

	sess, err := h.sessions.Start(ctx, r)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	for _, exp := range req.Experiments {
		t := sess.Choice(exp.Name, exp.Conditions...)
		if exp.Force != "" {
			t.SelectOption(exp.Force)
		}
		t.Track(exp.Goal)
	}

	assignments := sess.ActiveTests()
	if err := sess.Flush(ctx); err != nil {
		logging.Error("failed to flush exposures", err, logging.String("instance", sess.InstanceID()))
		writeError(w, http.StatusInternalServerError, "failed to record exposures")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sess.InstanceID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"instance":    sess.InstanceID(),
		"assignments": assignments,
	})
}

// goalRequest records a first-party conversion.
type goalRequest struct {
	Goal  string  `json:"goal"`
	Value *string `json:"value,omitempty"`
}

// Goal records a conversion for the requesting visitor's instance.
func (h *Handlers) Goal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusUnprocessableEntity, "goal is required")
		return
	}

	sess, err := h.sessions.Start(ctx, r)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	goal, err := sess.Goal(ctx, req.Goal, req.Value)
	if err != nil {
		logging.Error("failed to record goal", err, logging.String("goal", req.Goal))
		writeError(w, http.StatusInternalServerError, "failed to record goal")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"goal_id":  goal.ID,
		"instance": sess.InstanceID(),
	})
}

func (h *Handlers) writeSessionError(w http.ResponseWriter, err error) {
	if errors.IsType(err, errors.ErrTypeRateLimit) {
		writeError(w, http.StatusTooManyRequests, "too many instance id overrides")
		return
	}
	logging.Error("failed to open session", err)
	writeError(w, http.StatusInternalServerError, "failed to resolve instance")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("failed to write response", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
