package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
	"github.com/kozaktomas/face-registry/internal/identity"
)

func confirmedPerson(id, name string, angle float64) database.StoredPerson {
	return database.StoredPerson{
		ID:                id,
		DisplayName:       name,
		Confirmed:         true,
		AutoAssignEnabled: true,
		Centroid:          vecAt(angle),
		EmbeddingCount:    1,
	}
}

func TestClassifyEndpointAutoAssign(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0.05))
	store.AddPerson(confirmedPerson("alice", "Alice", 0))
	handler := NewClassifyHandler(newTestEngine(store))

	body := bytes.NewBufferString(`{"detection_id": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	rec := httptest.NewRecorder()
	handler.Classify(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp classifyResponse
	parseJSONResponse(t, rec, &resp)
	if resp.Decision != identity.DecisionAutoAssigned {
		t.Fatalf("decision = %s, want %s", resp.Decision, identity.DecisionAutoAssigned)
	}
	if resp.Identity == nil || resp.Identity.PersonID != "alice" {
		t.Fatalf("identity = %+v, want person alice", resp.Identity)
	}

	stored, _ := store.GetIdentity(req.Context(), 1)
	if stored == nil || !stored.AutoAssigned {
		t.Errorf("stored identity = %+v, want auto assigned", stored)
	}
}

func TestClassifyEndpointSuggestion(t *testing.T) {
	store := mock.NewMockStore()
	// cos(0.4) is about 0.921, below auto-assign but above suggest.
	store.AddDetection(testDetection(1, 0.4))
	store.AddPerson(confirmedPerson("alice", "Alice", 0))
	handler := NewClassifyHandler(newTestEngine(store))

	body := bytes.NewBufferString(`{"detection_id": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	rec := httptest.NewRecorder()
	handler.Classify(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp classifyResponse
	parseJSONResponse(t, rec, &resp)
	if resp.Decision != identity.DecisionSuggestion {
		t.Fatalf("decision = %s, want %s", resp.Decision, identity.DecisionSuggestion)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].PersonID != "alice" {
		t.Errorf("candidates = %+v, want alice", resp.Candidates)
	}
	if resp.Identity != nil {
		t.Error("suggestion must not write an identity")
	}

	stored, _ := store.GetIdentity(req.Context(), 1)
	if stored != nil {
		t.Error("no identity should be stored for a suggestion")
	}
}

func TestClassifyEndpointMissingDetectionID(t *testing.T) {
	handler := NewClassifyHandler(newTestEngine(mock.NewMockStore()))

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	rec := httptest.NewRecorder()
	handler.Classify(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "detection_id is required")
}

func TestClassifyEndpointUnknownDetection(t *testing.T) {
	handler := NewClassifyHandler(newTestEngine(mock.NewMockStore()))

	body := bytes.NewBufferString(`{"detection_id": 42}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	rec := httptest.NewRecorder()
	handler.Classify(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestClassifyEndpointAlreadyAssigned(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddPerson(confirmedPerson("alice", "Alice", 0))
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})
	handler := NewClassifyHandler(newTestEngine(store))

	body := bytes.NewBufferString(`{"detection_id": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	rec := httptest.NewRecorder()
	handler.Classify(rec, req)

	assertStatusCode(t, rec, http.StatusConflict)
}

func TestAssignEndpointNewPerson(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	handler := NewClassifyHandler(newTestEngine(store))

	body := bytes.NewBufferString(`{"detection_id": 1, "display_name": "Dana"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assign", body)
	rec := httptest.NewRecorder()
	handler.Assign(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Identity *identityResponse `json:"identity"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Identity == nil {
		t.Fatal("expected identity in response")
	}
	if resp.Identity.AutoAssigned {
		t.Error("manual assignment must not be auto assigned")
	}

	person, _ := store.GetPersonByName(req.Context(), "Dana")
	if person == nil {
		t.Fatal("person was not created")
	}
	if resp.Identity.PersonID != person.ID {
		t.Errorf("identity person = %s, want %s", resp.Identity.PersonID, person.ID)
	}
}

func TestAssignEndpointMissingDetectionID(t *testing.T) {
	handler := NewClassifyHandler(newTestEngine(mock.NewMockStore()))

	body := bytes.NewBufferString(`{"display_name": "Dana"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assign", body)
	rec := httptest.NewRecorder()
	handler.Assign(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "detection_id is required")
}

func TestUnassignEndpoint(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddPerson(database.StoredPerson{
		ID: "alice", DisplayName: "Alice",
		Centroid: vecAt(0), EmbeddingCount: 1,
	})
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})
	handler := NewClassifyHandler(newTestEngine(store))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/assign/1", nil)
	req = requestWithChiParams(req, map[string]string{"detectionID": "1"})
	rec := httptest.NewRecorder()
	handler.Unassign(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp map[string]bool
	parseJSONResponse(t, rec, &resp)
	if !resp["unassigned"] {
		t.Error("expected unassigned: true")
	}

	stored, _ := store.GetIdentity(req.Context(), 1)
	if stored != nil {
		t.Error("identity should be removed")
	}
}

func TestUnassignEndpointInvalidID(t *testing.T) {
	handler := NewClassifyHandler(newTestEngine(mock.NewMockStore()))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/assign/abc", nil)
	req = requestWithChiParams(req, map[string]string{"detectionID": "abc"})
	rec := httptest.NewRecorder()
	handler.Unassign(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "invalid detection ID")
}

func TestUnassignEndpointNotAssigned(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	handler := NewClassifyHandler(newTestEngine(store))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/assign/1", nil)
	req = requestWithChiParams(req, map[string]string{"detectionID": "1"})
	rec := httptest.NewRecorder()
	handler.Unassign(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}
