package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
)

// ProposalsHandler handles group proposal endpoints
type ProposalsHandler struct {
	engine     *identity.Engine
	proposals  database.ProposalReader
	detections database.DetectionReader
}

// NewProposalsHandler creates a new proposals handler
func NewProposalsHandler(
	engine *identity.Engine,
	proposals database.ProposalReader,
	detections database.DetectionReader,
) *ProposalsHandler {
	return &ProposalsHandler{
		engine:     engine,
		proposals:  proposals,
		detections: detections,
	}
}

// proposalMember is one member of a proposal with its photo reference.
type proposalMember struct {
	DetectionID int64   `json:"detection_id"`
	PhotoUID    string  `json:"photo_uid,omitempty"`
	FaceIndex   int     `json:"face_index"`
	Similarity  float64 `json:"similarity"`
}

// proposalResponse represents a proposal in API responses.
type proposalResponse struct {
	ID                string           `json:"id"`
	Status            string           `json:"status"`
	Members           []proposalMember `json:"members"`
	MemberCount       int              `json:"member_count"`
	ScoreMin          float64          `json:"score_min"`
	ScoreMax          float64          `json:"score_max"`
	ScoreMean         float64          `json:"score_mean"`
	SuggestedLabel    string           `json:"suggested_label,omitempty"`
	SuggestedPersonID string           `json:"suggested_person_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	DecidedAt         *time.Time       `json:"decided_at,omitempty"`
}

// toProposalResponse builds the DTO. photoUIDs may be nil when member
// previews are not needed.
func toProposalResponse(p *database.StoredProposal, photoUIDs map[int64]*database.StoredDetection) proposalResponse {
	members := make([]proposalMember, len(p.Members))
	for i, m := range p.Members {
		members[i] = proposalMember{
			DetectionID: m.DetectionID,
			Similarity:  m.Similarity,
		}
		if det, ok := photoUIDs[m.DetectionID]; ok {
			members[i].PhotoUID = det.PhotoUID
			members[i].FaceIndex = det.FaceIndex
		}
	}
	return proposalResponse{
		ID:                p.ID,
		Status:            p.Status,
		Members:           members,
		MemberCount:       len(members),
		ScoreMin:          p.ScoreMin,
		ScoreMax:          p.ScoreMax,
		ScoreMean:         p.ScoreMean,
		SuggestedLabel:    p.SuggestedLabel,
		SuggestedPersonID: p.SuggestedPersonID,
		CreatedAt:         p.CreatedAt,
		DecidedAt:         p.DecidedAt,
	}
}

// memberDetections loads the detections behind proposal members so the
// response can point at photos.
func (h *ProposalsHandler) memberDetections(r *http.Request, proposals ...*database.StoredProposal) map[int64]*database.StoredDetection {
	var ids []int64
	for _, p := range proposals {
		for _, m := range p.Members {
			ids = append(ids, m.DetectionID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	detections, err := h.detections.GetBatch(r.Context(), ids)
	if err != nil {
		// Previews are best-effort, the proposal itself is still useful.
		return nil
	}
	byID := make(map[int64]*database.StoredDetection, len(detections))
	for i := range detections {
		byID[detections[i].ID] = &detections[i]
	}
	return byID
}

// List returns proposals filtered by status, newest first.
func (h *ProposalsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", database.ProposalPending, database.ProposalAccepted, database.ProposalRejected:
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	limit := constants.DefaultHandlerPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	proposals, err := h.proposals.ListProposals(r.Context(), status, limit, offset)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	refs := make([]*database.StoredProposal, len(proposals))
	for i := range proposals {
		refs[i] = &proposals[i]
	}
	previews := h.memberDetections(r, refs...)

	items := make([]proposalResponse, len(proposals))
	for i := range proposals {
		items[i] = toProposalResponse(&proposals[i], previews)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"proposals": items,
		"count":     len(items),
	})
}

// Get returns one proposal with members.
func (h *ProposalsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing proposal ID")
		return
	}

	proposal, err := h.proposals.GetProposal(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if proposal == nil {
		respondError(w, http.StatusNotFound, "proposal not found")
		return
	}

	previews := h.memberDetections(r, proposal)
	respondJSON(w, http.StatusOK, map[string]any{
		"proposal": toProposalResponse(proposal, previews),
	})
}

// acceptRequest represents a proposal accept request. Either an existing
// person ID or a display name for a brand new person.
type acceptRequest struct {
	PersonID    string `json:"person_id"`
	DisplayName string `json:"display_name"`
}

// Accept turns a pending proposal into identities on a person.
func (h *ProposalsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing proposal ID")
		return
	}

	// The body is optional: without it the stored suggestion picks the person.
	var req acceptRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	result, err := h.engine.AcceptProposal(r.Context(), id, identity.PersonRef{
		PersonID:    req.PersonID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"proposal":       toProposalResponse(result.Proposal, nil),
		"person":         personResponse(result.Person),
		"created_person": result.CreatedPerson,
		"assigned":       result.Assigned,
	})
}

// Reject marks a pending proposal rejected. Its member set will not be
// proposed again.
func (h *ProposalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing proposal ID")
		return
	}

	proposal, err := h.engine.RejectProposal(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"proposal": toProposalResponse(proposal, nil),
	})
}
