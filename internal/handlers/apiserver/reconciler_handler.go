package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"carelink/internal/middleware"
	"carelink/internal/models"
	"carelink/internal/services"
)

// ReconcilerHandler exposes the consistency repair pass on demand.
type ReconcilerHandler struct {
	reconciler *services.ReconcilerService
	logger     *zap.Logger
}

// NewReconcilerHandler creates a new ReconcilerHandler.
func NewReconcilerHandler(reconciler *services.ReconcilerService, logger *zap.Logger) *ReconcilerHandler {
	return &ReconcilerHandler{reconciler: reconciler, logger: logger}
}

// Reconcile handles POST /api/v1/admin/reconcile. Admin only.
func (h *ReconcilerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	role, ok := middleware.GetRoleFromContext(r.Context())
	if !ok || role != models.RoleAdmin {
		writeJSONError(w, "admin role required", http.StatusForbidden)
		return
	}

	report, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report)
}
