package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func statsTestStore() *mock.MockStore {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddDetection(testDetection(3, 0.3))
	store.AddPerson(confirmedPerson("alice", "Alice", 0))
	store.AddPerson(database.StoredPerson{ID: "bob", DisplayName: "Bob", MergedInto: "alice"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})

	rejected := pendingProposal("prop-old", 2, 3)
	rejected.Status = database.ProposalRejected
	store.AddProposal(rejected)
	store.AddProposal(pendingProposal("prop-new", 2, 3))
	return store
}

func newStatsHandler(store *mock.MockStore) *StatsHandler {
	return NewStatsHandler(store, store, store, store)
}

func getStats(t *testing.T, handler *StatsHandler) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)
	return recorder
}

func TestStatsGet(t *testing.T) {
	handler := newStatsHandler(statsTestStore())
	recorder := getStats(t, handler)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	if stats.TotalDetections != 3 {
		t.Errorf("expected 3 detections, got %d", stats.TotalDetections)
	}
	if stats.TotalPhotos != 3 {
		t.Errorf("expected 3 photos, got %d", stats.TotalPhotos)
	}
	if stats.Identified != 1 {
		t.Errorf("expected 1 identified face, got %d", stats.Identified)
	}
	if stats.Unassigned != 2 {
		t.Errorf("expected 2 unassigned faces, got %d", stats.Unassigned)
	}

	// Merged persons do not count.
	if stats.TotalPersons != 1 {
		t.Errorf("expected 1 person, got %d", stats.TotalPersons)
	}

	if stats.Proposals["pending"] != 1 {
		t.Errorf("expected 1 pending proposal, got %d", stats.Proposals["pending"])
	}
	if stats.Proposals["rejected"] != 1 {
		t.Errorf("expected 1 rejected proposal, got %d", stats.Proposals["rejected"])
	}
}

func TestStatsCached(t *testing.T) {
	store := statsTestStore()
	handler := newStatsHandler(store)

	getStats(t, handler)

	// The store grows, but the cached totals stay until the TTL expires.
	store.AddDetection(testDetection(4, 0.5))
	recorder := getStats(t, handler)

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	if stats.TotalDetections != 3 {
		t.Errorf("expected cached count 3, got %d", stats.TotalDetections)
	}
}

func TestStatsInvalidateCache(t *testing.T) {
	store := statsTestStore()
	handler := newStatsHandler(store)

	getStats(t, handler)

	store.AddDetection(testDetection(4, 0.5))
	handler.InvalidateCache()

	recorder := getStats(t, handler)

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	if stats.TotalDetections != 4 {
		t.Errorf("expected fresh count 4, got %d", stats.TotalDetections)
	}
}

func TestStatsStoreError(t *testing.T) {
	store := statsTestStore()
	store.ListUnassignedError = errors.New("connection refused")
	handler := newStatsHandler(store)

	recorder := getStats(t, handler)

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "internal error")

	// Errors must not be cached.
	store.ListUnassignedError = nil
	recorder = getStats(t, handler)
	assertStatusCode(t, recorder, http.StatusOK)
}
