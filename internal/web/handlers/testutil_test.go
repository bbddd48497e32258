package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/kozaktomas/face-registry/internal/photoprism"
	"github.com/kozaktomas/face-registry/internal/web/middleware"
)

const testDim = 4

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		PhotoPrism: config.PhotoPrismConfig{
			URL: "http://localhost:2342",
		},
		Matching: testMatchingConfig(),
	}
}

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		Profile:          "default",
		AutoAssign:       0.93,
		Suggest:          0.85,
		ConflictGap:      0.04,
		Cluster:          0.85,
		MaxGroupSize:     50,
		RebuildBatchCap:  800,
		CentroidStrategy: identity.StrategyMean,
	}
}

// newTestEngine creates an identity engine over a mock store with the
// default thresholds and a small embedding dimension.
func newTestEngine(store *mock.MockStore) *identity.Engine {
	return identity.New(store, store, store, store, testMatchingConfig(), testDim)
}

// vecAt returns a unit vector in the xy-plane. The cosine similarity of
// vecAt(a) and vecAt(b) is cos(a-b), which lets tests dial in exact
// similarities.
func vecAt(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0}
}

func testDetection(id int64, angle float64) database.StoredDetection {
	return database.StoredDetection{
		ID:        id,
		PhotoUID:  fmt.Sprintf("photo-%d", id),
		Embedding: vecAt(angle),
		BBox:      []float64{0, 0, 120, 120},
		DetScore:  0.99,
		Model:     "buffalo_l",
		Dim:       testDim,
	}
}

// requestWithPhotoPrism creates a request with a PhotoPrism client in context
func requestWithPhotoPrism(t *testing.T, method, path string, pp *photoprism.PhotoPrism) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	ctx := middleware.SetPhotoPrismInContext(req.Context(), pp)
	return req.WithContext(ctx)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// setupMockPhotoPrismServer creates a mock PhotoPrism server for handler tests
func setupMockPhotoPrismServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	// Mock auth endpoint (always needed for NewPhotoPrism)
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "test-session-id",
			"access_token": "test-token",
			"config": map[string]string{
				"downloadToken": "test-download-token",
				"previewToken":  "test-preview-token",
			},
			"user": map[string]string{
				"UID": "test-user-uid",
			},
		})
	})

	// Add custom handlers
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

// createPhotoPrismClient creates a PhotoPrism client connected to a mock server
func createPhotoPrismClient(t *testing.T, server *httptest.Server) *photoprism.PhotoPrism {
	t.Helper()
	pp, err := photoprism.NewPhotoPrism(server.URL, "test", "test")
	if err != nil {
		t.Fatalf("failed to create PhotoPrism client: %v", err)
	}
	return pp
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
