package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func newRebuildHandler(store *mock.MockStore) *RebuildHandler {
	return NewRebuildHandler(newTestEngine(store), NewJobManager(), nil)
}

// waitForJob polls the job until it reaches a terminal state. The pass runs
// in a goroutine, so tests have to wait for it.
func waitForJob(t *testing.T, job *RebuildJob) JobStatus {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := job.GetStatus()
		if isJobTerminal(status) {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("job %s did not finish in time, status %s", job.ID, job.GetStatus())
	return ""
}

func startRebuild(t *testing.T, handler *RebuildHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest("POST", "/api/v1/rebuild", nil)
	} else {
		req = httptest.NewRequest("POST", "/api/v1/rebuild", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.Start(recorder, req)
	return recorder
}

func TestRebuildStart(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddDetection(testDetection(3, 1.2)) // Too far from the others to join a group.

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, "")

	assertStatusCode(t, recorder, http.StatusAccepted)
	assertContentType(t, recorder, "application/json")

	var result map[string]string
	parseJSONResponse(t, recorder, &result)

	if result["job_id"] == "" {
		t.Fatal("expected non-empty job_id")
	}
	if result["status"] != "pending" {
		t.Errorf("expected status 'pending', got '%s'", result["status"])
	}

	job := handler.jobManager.GetJob(result["job_id"])
	if job == nil {
		t.Fatal("expected job to be registered")
	}

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected job to complete, got %s (error: %s)", status, job.Error)
	}

	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.Result == nil {
		t.Fatal("expected job result")
	}
	if job.Result.Examined != 3 {
		t.Errorf("expected 3 examined detections, got %d", job.Result.Examined)
	}
	if job.Result.Created != 1 {
		t.Errorf("expected 1 created proposal, got %d", job.Result.Created)
	}

	proposals, err := store.ListProposals(context.Background(), database.ProposalPending, 10, 0)
	if err != nil {
		t.Fatalf("failed to list proposals: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 stored proposal, got %d", len(proposals))
	}
	if len(proposals[0].Members) != 2 {
		t.Errorf("expected 2 group members, got %d", len(proposals[0].Members))
	}
	if proposals[0].SuggestedLabel == "" {
		t.Error("expected a fallback label for the group")
	}
}

func TestRebuildCustomThreshold(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1)) // Similarity is about 0.995.

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, `{"threshold": 0.999}`)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	job := handler.jobManager.GetJob(result["job_id"])

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected job to complete, got %s", status)
	}

	if job.Result.Examined != 2 {
		t.Errorf("expected 2 examined detections, got %d", job.Result.Examined)
	}
	if job.Result.Created != 0 {
		t.Errorf("expected no proposals above threshold 0.999, got %d", job.Result.Created)
	}
}

func TestRebuildRespectsMaxGroupSize(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.05))
	store.AddDetection(testDetection(3, 0.1))

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, `{"max_group_size": 2}`)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	job := handler.jobManager.GetJob(result["job_id"])

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected job to complete, got %s", status)
	}

	if job.Result.Created != 0 {
		t.Errorf("expected no proposals, got %d", job.Result.Created)
	}
	if job.Result.SkippedOversize != 1 {
		t.Errorf("expected 1 oversize cluster to be skipped, got %d", job.Result.SkippedOversize)
	}
}

func TestRebuildSkipsDecidedGroups(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))

	// The same member set was rejected before, so the pass must not
	// propose it again.
	rejected := pendingProposal("prop-old", 1, 2)
	rejected.Status = database.ProposalRejected
	store.AddProposal(rejected)

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, "")

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	job := handler.jobManager.GetJob(result["job_id"])

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected job to complete, got %s", status)
	}

	if job.Result.Created != 0 {
		t.Errorf("expected no proposals, got %d", job.Result.Created)
	}
	if job.Result.SkippedDuplicates != 1 {
		t.Errorf("expected 1 duplicate group to be skipped, got %d", job.Result.SkippedDuplicates)
	}
}

func TestRebuildForceRecreatesDecidedGroups(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))

	rejected := pendingProposal("prop-old", 1, 2)
	rejected.Status = database.ProposalRejected
	store.AddProposal(rejected)

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, `{"force": true}`)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	job := handler.jobManager.GetJob(result["job_id"])

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected job to complete, got %s", status)
	}

	if job.Result.Created != 1 {
		t.Errorf("expected the rejected group to be recreated, got %d proposals", job.Result.Created)
	}
}

func TestRebuildJobFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.ListUnassignedError = errors.New("connection refused")

	handler := newRebuildHandler(store)
	recorder := startRebuild(t, handler, "")

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	job := handler.jobManager.GetJob(result["job_id"])

	if status := waitForJob(t, job); status != JobStatusFailed {
		t.Fatalf("expected job to fail, got %s", status)
	}
	if job.Error == "" {
		t.Error("expected a job error message")
	}
}

func TestRebuildStartInvalidThreshold(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())
	recorder := startRebuild(t, handler, `{"threshold": 1.5}`)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "threshold must be between 0 and 1")
}

func TestRebuildStartNegativeGroupSize(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())
	recorder := startRebuild(t, handler, `{"max_group_size": -1}`)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "max_group_size must not be negative")
}

func TestRebuildStartConflict(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())
	handler.jobManager.CreateJob("busy-job", RebuildJobOptions{})

	recorder := startRebuild(t, handler, "")

	assertStatusCode(t, recorder, http.StatusConflict)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)

	if result["error"] != "a rebuild pass is already running" {
		t.Errorf("unexpected error message: %s", result["error"])
	}
	if result["job_id"] != "busy-job" {
		t.Errorf("expected conflicting job_id 'busy-job', got '%s'", result["job_id"])
	}
}

func TestRebuildStatus(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())
	handler.jobManager.CreateJob("job-1", RebuildJobOptions{Threshold: 0.9})

	req := httptest.NewRequest("GET", "/api/v1/rebuild/job-1", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var result map[string]any
	parseJSONResponse(t, recorder, &result)

	if result["id"] != "job-1" {
		t.Errorf("expected job ID 'job-1', got '%v'", result["id"])
	}
	if result["status"] != "pending" {
		t.Errorf("expected status 'pending', got '%v'", result["status"])
	}
}

func TestRebuildStatusMissingJobID(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())

	req := httptest.NewRequest("GET", "/api/v1/rebuild/", nil)
	req = requestWithChiParams(req, map[string]string{})
	recorder := httptest.NewRecorder()

	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "missing job ID")
}

func TestRebuildStatusNotFound(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())

	req := httptest.NewRequest("GET", "/api/v1/rebuild/nonexistent", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nonexistent"})
	recorder := httptest.NewRecorder()

	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}

func TestRebuildCancel(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())
	job := handler.jobManager.CreateJob("job-1", RebuildJobOptions{})

	req := httptest.NewRequest("DELETE", "/api/v1/rebuild/job-1", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result map[string]bool
	parseJSONResponse(t, recorder, &result)

	if !result["cancelled"] {
		t.Error("expected cancelled=true")
	}
	if status := job.GetStatus(); status != JobStatusCancelled {
		t.Errorf("expected status cancelled, got %s", status)
	}

	// A cancelled job no longer blocks the next pass.
	if active := handler.jobManager.ActiveJob(); active != nil {
		t.Errorf("expected no active job, got %s", active.ID)
	}
}

func TestRebuildCancelNotFound(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())

	req := httptest.NewRequest("DELETE", "/api/v1/rebuild/nonexistent", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nonexistent"})
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}

func TestRebuildEventsMissingJobID(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())

	req := httptest.NewRequest("GET", "/api/v1/rebuild//events", nil)
	req = requestWithChiParams(req, map[string]string{})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "missing job ID")
}

func TestRebuildEventsNotFound(t *testing.T) {
	handler := newRebuildHandler(mock.NewMockStore())

	req := httptest.NewRequest("GET", "/api/v1/rebuild/nonexistent/events", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nonexistent"})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}

func TestJobManagerCreateAndGet(t *testing.T) {
	jm := NewJobManager()

	options := RebuildJobOptions{Threshold: 0.9, MaxGroupSize: 10}
	job := jm.CreateJob("job123", options)

	if job.ID != "job123" {
		t.Errorf("expected job ID 'job123', got '%s'", job.ID)
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected status pending, got %v", job.Status)
	}
	if job.Options.Threshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %v", job.Options.Threshold)
	}

	retrieved := jm.GetJob("job123")
	if retrieved == nil {
		t.Fatal("expected to retrieve job")
	}
	if retrieved.ID != job.ID {
		t.Error("retrieved job should match created job")
	}
}

func TestJobManagerGetNonexistent(t *testing.T) {
	jm := NewJobManager()

	if job := jm.GetJob("nonexistent"); job != nil {
		t.Error("expected nil for nonexistent job")
	}
}

func TestJobManagerActiveJob(t *testing.T) {
	jm := NewJobManager()

	if active := jm.ActiveJob(); active != nil {
		t.Errorf("expected no active job, got %s", active.ID)
	}

	job := jm.CreateJob("job-1", RebuildJobOptions{})
	active := jm.ActiveJob()
	if active == nil || active.ID != "job-1" {
		t.Fatalf("expected job-1 to be active, got %v", active)
	}

	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.mu.Unlock()

	if active := jm.ActiveJob(); active != nil {
		t.Errorf("expected no active job after completion, got %s", active.ID)
	}
}
