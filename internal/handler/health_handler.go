package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go-identity-service/internal/model"
)

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, model.HealthStatus{Status: "ok"})
}

// Ready pings every dependency and answers 503 if any of them fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result := model.HealthStatus{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK

	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			result.Checks[name] = "unavailable"
			result.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		result.Checks[name] = "ok"
	}

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(model.APIResponse{
			Success: false,
			Data:    result,
			Error:   &model.APIError{Code: "NOT_READY", Message: "A dependency is unavailable"},
		})
		return
	}

	writeSuccess(w, status, result)
}
