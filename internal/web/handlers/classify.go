package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
)

// ClassifyHandler handles classification and manual assignment endpoints
type ClassifyHandler struct {
	engine *identity.Engine
}

// NewClassifyHandler creates a new classify handler
func NewClassifyHandler(engine *identity.Engine) *ClassifyHandler {
	return &ClassifyHandler{engine: engine}
}

// classifyRequest represents a classify request.
type classifyRequest struct {
	DetectionID int64 `json:"detection_id"`
	Force       bool  `json:"force"`
}

// identityResponse represents a stored identity in API responses.
type identityResponse struct {
	DetectionID  int64     `json:"detection_id"`
	PersonID     string    `json:"person_id"`
	Similarity   float64   `json:"similarity"`
	AutoAssigned bool      `json:"auto_assigned"`
	AssignedAt   time.Time `json:"assigned_at"`
}

func toIdentityResponse(ident *database.StoredIdentity) *identityResponse {
	if ident == nil {
		return nil
	}
	return &identityResponse{
		DetectionID:  ident.DetectionID,
		PersonID:     ident.PersonID,
		Similarity:   ident.Similarity,
		AutoAssigned: ident.AutoAssigned,
		AssignedAt:   ident.CreatedAt,
	}
}

// classifyResponse is the decision DTO returned by Classify.
type classifyResponse struct {
	DetectionID int64                `json:"detection_id"`
	Decision    identity.Decision    `json:"decision"`
	Candidates  []identity.Candidate `json:"candidates"`
	Identity    *identityResponse    `json:"identity,omitempty"`
}

// Classify runs the matching decision for one detection. With force set,
// an existing identity is reconsidered instead of being an error.
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DetectionID == 0 {
		respondError(w, http.StatusBadRequest, "detection_id is required")
		return
	}

	result, err := h.engine.Classify(r.Context(), req.DetectionID, req.Force)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, classifyResponse{
		DetectionID: result.DetectionID,
		Decision:    result.Decision,
		Candidates:  result.Candidates,
		Identity:    toIdentityResponse(result.Identity),
	})
}

// assignRequest represents a manual assignment request. Either an existing
// person ID or a display name for a brand new person.
type assignRequest struct {
	DetectionID int64  `json:"detection_id"`
	PersonID    string `json:"person_id"`
	DisplayName string `json:"display_name"`
}

// Assign manually assigns a detection to a person.
func (h *ClassifyHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DetectionID == 0 {
		respondError(w, http.StatusBadRequest, "detection_id is required")
		return
	}

	ident, err := h.engine.AssignManually(r.Context(), req.DetectionID, identity.PersonRef{
		PersonID:    req.PersonID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"identity": toIdentityResponse(ident),
	})
}

// Unassign removes the identity of a detection and down-updates the person
// centroid.
func (h *ClassifyHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "detectionID")
	detectionID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detection ID")
		return
	}

	if err := h.engine.Unassign(r.Context(), detectionID); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"unassigned": true})
}
