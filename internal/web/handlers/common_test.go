package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]any{
		"message": "hello",
		"count":   42,
	}

	respondJSON(recorder, http.StatusCreated, data)

	if recorder.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	assertContentType(t, recorder, "application/json")

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["message"] != "hello" {
		t.Errorf("expected message 'hello', got '%v'", result["message"])
	}
	if result["count"] != float64(42) { // JSON numbers are float64
		t.Errorf("expected count 42, got %v", result["count"])
	}
}

func TestRespondJSONNilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	assertContentType(t, recorder, "application/json")
	assertJSONError(t, recorder, "something went wrong")
}

func TestRespondEngineError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectStatus  int
		expectMessage string
	}{
		{
			name:          "validation error",
			err:           &identity.ValidationError{Message: "display name is required"},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "display name is required",
		},
		{
			name:          "not found error",
			err:           &identity.NotFoundError{Resource: "person", ID: "p-1"},
			expectStatus:  http.StatusNotFound,
			expectMessage: "person p-1 not found",
		},
		{
			name:          "state error",
			err:           &identity.StateError{Message: "detection already assigned"},
			expectStatus:  http.StatusConflict,
			expectMessage: "detection already assigned",
		},
		{
			name:          "concurrency error",
			err:           &identity.ConcurrencyError{Message: "a rebuild pass is already running"},
			expectStatus:  http.StatusConflict,
			expectMessage: "a rebuild pass is already running",
		},
		{
			name:          "wrapped not found error",
			err:           fmt.Errorf("accept proposal: %w", &identity.NotFoundError{Resource: "proposal", ID: "x"}),
			expectStatus:  http.StatusNotFound,
			expectMessage: "proposal x not found",
		},
		{
			name:          "decided proposal",
			err:           fmt.Errorf("reject: %w", database.ErrProposalDecided),
			expectStatus:  http.StatusConflict,
			expectMessage: "proposal already decided",
		},
		{
			name:          "storage failure",
			err:           errors.New("connection refused"),
			expectStatus:  http.StatusInternalServerError,
			expectMessage: "internal error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondEngineError(recorder, tc.err)

			assertStatusCode(t, recorder, tc.expectStatus)
			assertJSONError(t, recorder, tc.expectMessage)
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"clean string", "clean string"},
		{"line1\nline2", "line1line2"},
		{"carriage\rreturn", "carriagereturn"},
		{"both\r\nkinds", "bothkinds"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := sanitizeForLog(tc.input); got != tc.expected {
			t.Errorf("sanitizeForLog(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	assertContentType(t, recorder, "application/json")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestHealthCheckIgnoresMethod(t *testing.T) {
	methods := []string{"GET", "POST", "PUT", "DELETE", "HEAD"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/health", nil)
			recorder := httptest.NewRecorder()

			HealthCheck(recorder, req)

			if recorder.Code != http.StatusOK {
				t.Errorf("expected status %d for method %s, got %d", http.StatusOK, method, recorder.Code)
			}
		})
	}
}
