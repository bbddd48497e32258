package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
)

// PersonsHandler handles person endpoints
type PersonsHandler struct {
	engine     *identity.Engine
	persons    database.PersonWriter
	identities database.IdentityReader
	detections database.DetectionReader
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(
	engine *identity.Engine,
	persons database.PersonWriter,
	identities database.IdentityReader,
	detections database.DetectionReader,
) *PersonsHandler {
	return &PersonsHandler{
		engine:     engine,
		persons:    persons,
		identities: identities,
		detections: detections,
	}
}

// PersonResponse represents a person in API responses.
type PersonResponse struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	Confirmed         bool      `json:"confirmed"`
	AutoAssignEnabled bool      `json:"auto_assign_enabled"`
	MergedInto        string    `json:"merged_into,omitempty"`
	FaceCount         int       `json:"face_count"`
	SampleDetectionID int64     `json:"sample_detection_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func personResponse(p *database.StoredPerson) PersonResponse {
	return PersonResponse{
		ID:                p.ID,
		DisplayName:       p.DisplayName,
		Confirmed:         p.Confirmed,
		AutoAssignEnabled: p.AutoAssignEnabled,
		MergedInto:        p.MergedInto,
		FaceCount:         p.EmbeddingCount,
		SampleDetectionID: p.SampleDetectionID,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// List returns all persons. Merged-away persons are hidden unless
// ?include_merged=true is set.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeMerged := r.URL.Query().Get("include_merged") == "true"

	persons, err := h.persons.ListPersons(r.Context(), includeMerged)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	items := make([]PersonResponse, len(persons))
	for i := range persons {
		items[i] = personResponse(&persons[i])
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"persons": items,
		"count":   len(items),
	})
}

// Get returns one person with its sample detection.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing person ID")
		return
	}

	person, err := h.persons.GetPerson(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if person == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}

	response := map[string]any{
		"person": personResponse(person),
	}

	if person.SampleDetectionID != 0 {
		if det, err := h.detections.Get(r.Context(), person.SampleDetectionID); err == nil && det != nil {
			response["sample_detection"] = detectionResponse(det)
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// updatePersonRequest carries the mutable person fields. Pointer fields
// distinguish "not sent" from a zero value.
type updatePersonRequest struct {
	DisplayName       *string `json:"display_name"`
	Confirmed         *bool   `json:"confirmed"`
	AutoAssignEnabled *bool   `json:"auto_assign_enabled"`
}

// Update renames a person or toggles the confirmed / auto-assign flags.
func (h *PersonsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing person ID")
		return
	}

	var req updatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DisplayName == nil && req.Confirmed == nil && req.AutoAssignEnabled == nil {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	person, err := h.persons.GetPerson(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if person == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if !person.Active() {
		respondError(w, http.StatusConflict, "person was merged away")
		return
	}

	if req.DisplayName != nil {
		if *req.DisplayName == "" {
			respondError(w, http.StatusBadRequest, "display_name must not be empty")
			return
		}
		if err := h.persons.UpdatePersonName(r.Context(), id, *req.DisplayName); err != nil {
			respondEngineError(w, err)
			return
		}
		person.DisplayName = *req.DisplayName
	}

	if req.Confirmed != nil || req.AutoAssignEnabled != nil {
		confirmed := person.Confirmed
		autoAssign := person.AutoAssignEnabled
		if req.Confirmed != nil {
			confirmed = *req.Confirmed
		}
		if req.AutoAssignEnabled != nil {
			autoAssign = *req.AutoAssignEnabled
		}
		if err := h.persons.UpdatePersonFlags(r.Context(), id, confirmed, autoAssign); err != nil {
			respondEngineError(w, err)
			return
		}
		person.Confirmed = confirmed
		person.AutoAssignEnabled = autoAssign
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"person": personResponse(person),
	})
}

// mergeRequest represents a person merge request.
type mergeRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// Merge folds the source person into the target person.
func (h *PersonsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SourceID == "" || req.TargetID == "" {
		respondError(w, http.StatusBadRequest, "source_id and target_id are required")
		return
	}

	target, err := h.engine.MergePersons(r.Context(), req.SourceID, req.TargetID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"person": personResponse(target),
	})
}

// personDetection is one identified detection of a person.
type personDetection struct {
	DetectionID  int64     `json:"detection_id"`
	PhotoUID     string    `json:"photo_uid"`
	FaceIndex    int       `json:"face_index"`
	Similarity   float64   `json:"similarity"`
	AutoAssigned bool      `json:"auto_assigned"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Detections returns the identified detections of a person, including how
// each one was assigned.
func (h *PersonsHandler) Detections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing person ID")
		return
	}

	person, err := h.persons.GetPerson(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if person == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}

	identities, err := h.identities.ListByPerson(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	ids := make([]int64, len(identities))
	for i, ident := range identities {
		ids[i] = ident.DetectionID
	}
	detections, err := h.detections.GetBatch(r.Context(), ids)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	byID := make(map[int64]*database.StoredDetection, len(detections))
	for i := range detections {
		byID[detections[i].ID] = &detections[i]
	}

	items := make([]personDetection, 0, len(identities))
	for _, ident := range identities {
		item := personDetection{
			DetectionID:  ident.DetectionID,
			Similarity:   ident.Similarity,
			AutoAssigned: ident.AutoAssigned,
			AssignedAt:   ident.CreatedAt,
		}
		if det, ok := byID[ident.DetectionID]; ok {
			item.PhotoUID = det.PhotoUID
			item.FaceIndex = det.FaceIndex
		}
		items = append(items, item)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"person_id":  id,
		"detections": items,
		"count":      len(items),
	})
}
