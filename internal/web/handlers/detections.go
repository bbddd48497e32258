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

// DetectionsHandler handles detection exploration endpoints
type DetectionsHandler struct {
	detections database.DetectionReader
	identities database.IdentityReader
}

// NewDetectionsHandler creates a new detections handler
func NewDetectionsHandler(detections database.DetectionReader, identities database.IdentityReader) *DetectionsHandler {
	return &DetectionsHandler{
		detections: detections,
		identities: identities,
	}
}

// detectionResponseDTO represents a detection in API responses.
type detectionResponseDTO struct {
	ID        int64     `json:"id"`
	PhotoUID  string    `json:"photo_uid"`
	FaceIndex int       `json:"face_index"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
	MarkerUID string    `json:"marker_uid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func detectionResponse(det *database.StoredDetection) detectionResponseDTO {
	return detectionResponseDTO{
		ID:        det.ID,
		PhotoUID:  det.PhotoUID,
		FaceIndex: det.FaceIndex,
		BBox:      det.BBox,
		DetScore:  det.DetScore,
		MarkerUID: det.MarkerUID,
		CreatedAt: det.CreatedAt,
	}
}

// similarRequest represents a similar-face search request.
type similarRequest struct {
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

// similarMatch is one neighbor of the query detection.
type similarMatch struct {
	Detection  detectionResponseDTO `json:"detection"`
	Similarity float64              `json:"similarity"`
	PersonID   string               `json:"person_id,omitempty"`
}

// Similar returns the nearest detections to the given one, with the
// identity of each neighbor when it has one. The repository uses the HNSW
// index when enabled and falls back to exact SQL search otherwise.
func (h *DetectionsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	detectionID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detection ID")
		return
	}

	var req similarRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = constants.DefaultSimilarLimit
	}
	if req.Limit > constants.MaxSimilarLimit {
		req.Limit = constants.MaxSimilarLimit
	}
	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		respondError(w, http.StatusBadRequest, "min_similarity must be between 0 and 1")
		return
	}

	det, err := h.detections.Get(r.Context(), detectionID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if det == nil {
		respondError(w, http.StatusNotFound, "detection not found")
		return
	}

	// Ask for one extra neighbor because the query detection matches itself
	// with distance zero.
	maxDistance := 1.0 - req.MinSimilarity
	neighbors, distances, err := h.detections.FindSimilarWithDistance(r.Context(), det.Embedding, req.Limit+1, maxDistance)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	ids := make([]int64, 0, len(neighbors))
	for i := range neighbors {
		if neighbors[i].ID != detectionID {
			ids = append(ids, neighbors[i].ID)
		}
	}
	assigned, err := h.identities.GetIdentities(r.Context(), ids)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	matches := make([]similarMatch, 0, len(neighbors))
	for i := range neighbors {
		if neighbors[i].ID == detectionID {
			continue
		}
		if len(matches) == req.Limit {
			break
		}
		match := similarMatch{
			Detection:  detectionResponse(&neighbors[i]),
			Similarity: identity.RoundScore(1.0 - distances[i]),
		}
		if ident, ok := assigned[neighbors[i].ID]; ok {
			match.PersonID = ident.PersonID
		}
		matches = append(matches, match)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"detection_id": detectionID,
		"matches":      matches,
		"count":        len(matches),
	})
}
