package report

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"ab-gateway/internal/common/logging"
)

// Handlers exposes the reporting service over HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers creates the report HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Register mounts the report routes on the router. The caller wraps the
// router with the configured auth middleware.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/experiments", h.ListExperiments).Methods(http.MethodGet)
	router.HandleFunc("/experiments/{experiment}", h.ExperimentReport).Methods(http.MethodGet)
	router.HandleFunc("/export", h.FullExport).Methods(http.MethodGet)
}

// ListExperiments answers GET /experiments.
func (h *Handlers) ListExperiments(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, "failed to list experiments", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":     true,
		"experiments": summaries,
	})
}

// ExperimentReport answers GET /experiments/{experiment}.
func (h *Handlers) ExperimentReport(w http.ResponseWriter, r *http.Request) {
	experiment := mux.Vars(r)["experiment"]

	stats, err := h.service.Report(r.Context(), experiment)
	if err != nil {
		writeError(w, "failed to build report", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"experiment": experiment,
		"variants":   stats,
	})
}

// FullExport answers GET /export.
func (h *Handlers) FullExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.service.Export(r.Context())
	if err != nil {
		writeError(w, "failed to export data", err)
		return
	}
	writeJSON(w, export)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("failed to write report response", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, message string, err error) {
	logging.Error(message, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
