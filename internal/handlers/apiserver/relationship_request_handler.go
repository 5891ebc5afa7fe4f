package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"carelink/internal/middleware"
	"carelink/internal/models"
	"carelink/internal/services"
)

// RelationshipRequestHandler handles HTTP requests for the request lifecycle.
type RelationshipRequestHandler struct {
	requests *services.RequestService
	logger   *zap.Logger
}

// NewRelationshipRequestHandler creates a new RelationshipRequestHandler.
func NewRelationshipRequestHandler(requests *services.RequestService, logger *zap.Logger) *RelationshipRequestHandler {
	return &RelationshipRequestHandler{requests: requests, logger: logger}
}

// CreateRequestPayload is the request body for creating a connection request.
type CreateRequestPayload struct {
	ToID    uint                    `json:"toId,omitempty"`
	ToEmail string                  `json:"toEmail,omitempty"`
	ToPhone string                  `json:"toPhone,omitempty"`
	Kind    models.RelationshipKind `json:"relationshipKind"`
	Message string                  `json:"message,omitempty"`
}

// Create handles POST /api/v1/relationship-requests.
func (h *RelationshipRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	var payload CreateRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.ToID == 0 && payload.ToEmail == "" && payload.ToPhone == "" {
		writeJSONError(w, "recipient is required (toId, toEmail or toPhone)", http.StatusBadRequest)
		return
	}
	if payload.Kind == "" {
		writeJSONError(w, "relationshipKind is required", http.StatusBadRequest)
		return
	}

	request, err := h.requests.CreateRequest(r.Context(), actorID, services.RecipientRef{
		ID:    payload.ToID,
		Email: payload.ToEmail,
		Phone: payload.ToPhone,
	}, payload.Kind, payload.Message)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, request)
}

// ListPending handles GET /api/v1/relationship-requests/pending.
func (h *RelationshipRequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	pending, err := h.requests.GetPending(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if pending == nil {
		pending = []models.RequestWithRequester{}
	}
	writeJSONResponse(w, http.StatusOK, pending)
}

// AcceptPayload is the request body for accepting a connection request.
type AcceptPayload struct {
	Code string `json:"code,omitempty"`
}

// Accept handles POST /api/v1/relationship-requests/{requestID}/accept.
// Accepting twice is safe: the second call returns a conflict and never
// materializes a second edge pair.
func (h *RelationshipRequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}

	var payload AcceptPayload
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		defer r.Body.Close()
	}

	if err := h.requests.Accept(r.Context(), requestID, actorID, payload.Code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "request accepted"})
}

// Reject handles POST /api/v1/relationship-requests/{requestID}/reject.
func (h *RelationshipRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}

	if err := h.requests.Reject(r.Context(), requestID, actorID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "request rejected"})
}

// Resend handles POST /api/v1/relationship-requests/{requestID}/resend.
func (h *RelationshipRequestHandler) Resend(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}

	request, err := h.requests.Resend(r.Context(), requestID, actorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, request)
}

// pathID extracts a numeric path variable, writing the error response itself
// when the variable is missing or malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	vars := mux.Vars(r)
	raw, ok := vars[name]
	if !ok {
		writeJSONError(w, "missing "+name, http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeJSONError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}
