package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func newPersonsHandler(store *mock.MockStore) *PersonsHandler {
	return NewPersonsHandler(newTestEngine(store), store, store, store)
}

func TestPersonsList(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice", EmbeddingCount: 3})
	store.AddPerson(database.StoredPerson{ID: "bob", DisplayName: "Bob", MergedInto: "alice"})
	handler := newPersonsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/persons", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Persons []PersonResponse `json:"persons"`
		Count   int              `json:"count"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1 (merged persons hidden)", resp.Count)
	}
	if resp.Persons[0].ID != "alice" {
		t.Errorf("person ID = %s, want alice", resp.Persons[0].ID)
	}
	if resp.Persons[0].FaceCount != 3 {
		t.Errorf("face count = %d, want 3", resp.Persons[0].FaceCount)
	}
}

func TestPersonsListIncludeMerged(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	store.AddPerson(database.StoredPerson{ID: "bob", DisplayName: "Bob", MergedInto: "alice"})
	handler := newPersonsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/persons?include_merged=true", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Persons []PersonResponse `json:"persons"`
		Count   int              `json:"count"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
}

func TestPersonsGet(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(7, 0))
	store.AddPerson(database.StoredPerson{
		ID:                "alice",
		DisplayName:       "Alice",
		Confirmed:         true,
		SampleDetectionID: 7,
	})
	handler := newPersonsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/persons/alice", nil)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Person          PersonResponse        `json:"person"`
		SampleDetection *detectionResponseDTO `json:"sample_detection"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Person.DisplayName != "Alice" {
		t.Errorf("display name = %s, want Alice", resp.Person.DisplayName)
	}
	if resp.SampleDetection == nil {
		t.Fatal("expected sample detection in response")
	}
	if resp.SampleDetection.PhotoUID != "photo-7" {
		t.Errorf("sample photo = %s, want photo-7", resp.SampleDetection.PhotoUID)
	}
}

func TestPersonsGetNotFound(t *testing.T) {
	handler := newPersonsHandler(mock.NewMockStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/persons/ghost", nil)
	req = requestWithChiParams(req, map[string]string{"id": "ghost"})
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
	assertJSONError(t, rec, "person not found")
}

func TestPersonsUpdateRename(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{"display_name": "Alice Novak"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/alice", body)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Person PersonResponse `json:"person"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Person.DisplayName != "Alice Novak" {
		t.Errorf("display name = %s, want Alice Novak", resp.Person.DisplayName)
	}

	stored, _ := store.GetPerson(req.Context(), "alice")
	if stored.DisplayName != "Alice Novak" {
		t.Errorf("stored name = %s, want Alice Novak", stored.DisplayName)
	}
}

func TestPersonsUpdateFlags(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice", AutoAssignEnabled: true})
	handler := newPersonsHandler(store)

	// Only auto_assign_enabled is sent; confirmed must keep its value.
	body := bytes.NewBufferString(`{"auto_assign_enabled": false}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/alice", body)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	stored, _ := store.GetPerson(req.Context(), "alice")
	if stored.AutoAssignEnabled {
		t.Error("auto assign should be disabled")
	}
	if stored.Confirmed {
		t.Error("confirmed flag should be untouched")
	}
}

func TestPersonsUpdateNothingToUpdate(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/alice", body)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "nothing to update")
}

func TestPersonsUpdateEmptyName(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{"display_name": ""}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/alice", body)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestPersonsUpdateMergedPerson(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "bob", DisplayName: "Bob", MergedInto: "alice"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{"display_name": "Robert"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/bob", body)
	req = requestWithChiParams(req, map[string]string{"id": "bob"})
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	assertStatusCode(t, rec, http.StatusConflict)
	assertJSONError(t, rec, "person was merged away")
}

func TestPersonsMerge(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddPerson(database.StoredPerson{
		ID: "alice", DisplayName: "Alice",
		Centroid: vecAt(0), EmbeddingCount: 1,
	})
	store.AddPerson(database.StoredPerson{
		ID: "alicia", DisplayName: "Alicia",
		Centroid: vecAt(0.1), EmbeddingCount: 1,
	})
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 2, PersonID: "alicia"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{"source_id": "alicia", "target_id": "alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/persons/merge", body)
	rec := httptest.NewRecorder()
	handler.Merge(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Person PersonResponse `json:"person"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Person.ID != "alice" {
		t.Errorf("merge target = %s, want alice", resp.Person.ID)
	}
	if resp.Person.FaceCount != 2 {
		t.Errorf("face count after merge = %d, want 2", resp.Person.FaceCount)
	}

	source, _ := store.GetPerson(req.Context(), "alicia")
	if source.MergedInto != "alice" {
		t.Errorf("source merged_into = %s, want alice", source.MergedInto)
	}
}

func TestPersonsMergeMissingIDs(t *testing.T) {
	handler := newPersonsHandler(mock.NewMockStore())

	body := bytes.NewBufferString(`{"source_id": "alicia"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/persons/merge", body)
	rec := httptest.NewRecorder()
	handler.Merge(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "source_id and target_id are required")
}

func TestPersonsMergeUnknownPerson(t *testing.T) {
	store := mock.NewMockStore()
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	handler := newPersonsHandler(store)

	body := bytes.NewBufferString(`{"source_id": "ghost", "target_id": "alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/persons/merge", body)
	rec := httptest.NewRecorder()
	handler.Merge(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestPersonsDetections(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddPerson(database.StoredPerson{ID: "alice", DisplayName: "Alice"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice", Similarity: 0.95, AutoAssigned: true})
	store.AddIdentity(database.StoredIdentity{DetectionID: 2, PersonID: "alice", Similarity: 0.91})
	handler := newPersonsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/persons/alice/detections", nil)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	rec := httptest.NewRecorder()
	handler.Detections(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		PersonID   string            `json:"person_id"`
		Detections []personDetection `json:"detections"`
		Count      int               `json:"count"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Detections[0].DetectionID != 1 || resp.Detections[0].PhotoUID != "photo-1" {
		t.Errorf("unexpected first detection: %+v", resp.Detections[0])
	}
	if !resp.Detections[0].AutoAssigned {
		t.Error("first detection should be auto assigned")
	}
	if resp.Detections[1].Similarity != 0.91 {
		t.Errorf("second similarity = %v, want 0.91", resp.Detections[1].Similarity)
	}
}
