package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sqaleshop/api/internal/platform/httpx"
)

// IdempotencyCleaner purges expired idempotency records.
type IdempotencyCleaner interface {
	Run(ctx context.Context) (int, error)
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

// MaintenanceHandlers exposes /internal/maintenance jobs triggered by Cloud Scheduler.
type MaintenanceHandlers struct {
	cleaner IdempotencyCleaner
}

func NewMaintenanceHandlers(cleaner IdempotencyCleaner) *MaintenanceHandlers {
	return &MaintenanceHandlers{cleaner: cleaner}
}

// Routes registers the maintenance endpoints. OIDC is applied by the router's internal group.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency-cleanup", h.cleanupIdempotency)
}

func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_unavailable", "idempotency cleanup is not configured", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.cleaner.Run(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError).
			WithDetails(map[string]any{"removed": removed}))
		return
	}
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed})
}
