package apiserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"carelink/internal/middleware"
	"carelink/internal/models"
	"carelink/internal/services"
)

// RelationshipGraphHandler handles HTTP requests against the caller's own
// relationship graph.
type RelationshipGraphHandler struct {
	graph  *services.GraphService
	logger *zap.Logger
}

// NewRelationshipGraphHandler creates a new RelationshipGraphHandler.
func NewRelationshipGraphHandler(graph *services.GraphService, logger *zap.Logger) *RelationshipGraphHandler {
	return &RelationshipGraphHandler{graph: graph, logger: logger}
}

// List handles GET /api/v1/relationships. Only active edges are returned;
// disabled edges stay in the store for audit but never in this view.
func (h *RelationshipGraphHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	edges, err := h.graph.GetActiveEdges(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if edges == nil {
		edges = []models.RelationshipEdge{}
	}
	writeJSONResponse(w, http.StatusOK, edges)
}

// UpdateAccessPayload is the request body for changing a peer's access.
type UpdateAccessPayload struct {
	AccessLevel        models.AccessLevel `json:"accessLevel,omitempty"`
	IsEmergencyContact *bool              `json:"isEmergencyContact,omitempty"`
	PeerEmail          string             `json:"peerEmail,omitempty"`
}

// UpdateAccess handles PUT /api/v1/relationships/{peerID}/access. The change
// is local to the caller's view; the peer's edge is untouched.
func (h *RelationshipGraphHandler) UpdateAccess(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	peerID, ok := pathID(w, r, "peerID")
	if !ok {
		return
	}

	var payload UpdateAccessPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	switch payload.AccessLevel {
	case "", models.AccessFull, models.AccessLimited, models.AccessEmergency:
	default:
		writeJSONError(w, "invalid accessLevel", http.StatusBadRequest)
		return
	}

	edge, err := h.graph.UpdateEdgeAccess(r.Context(), actorID, peerID, payload.PeerEmail, payload.AccessLevel, payload.IsEmergencyContact)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, edge)
}

// Disable handles DELETE /api/v1/relationships/{peerID}. The edge is
// soft-disabled on both sides; the records persist.
func (h *RelationshipGraphHandler) Disable(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	peerID, ok := pathID(w, r, "peerID")
	if !ok {
		return
	}
	peerEmail := r.URL.Query().Get("peerEmail")

	if err := h.graph.DisableEdge(r.Context(), actorID, peerID, peerEmail, actorID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "relationship disabled"})
}
