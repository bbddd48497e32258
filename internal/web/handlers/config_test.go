package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func getConfig(t *testing.T, handler *ConfigHandler) *ConfigResponse {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var response ConfigResponse
	parseJSONResponse(t, recorder, &response)
	return &response
}

func TestConfigGet(t *testing.T) {
	handler := NewConfigHandler(testConfig(), newTestEngine(mock.NewMockStore()))
	response := getConfig(t, handler)

	matching := response.Matching
	if matching.Profile != "default" {
		t.Errorf("expected profile 'default', got '%s'", matching.Profile)
	}
	if matching.AutoAssign != 0.93 {
		t.Errorf("expected auto_assign 0.93, got %v", matching.AutoAssign)
	}
	if matching.Suggest != 0.85 {
		t.Errorf("expected suggest 0.85, got %v", matching.Suggest)
	}
	if matching.ConflictGap != 0.04 {
		t.Errorf("expected conflict_gap 0.04, got %v", matching.ConflictGap)
	}
	if matching.Cluster != 0.85 {
		t.Errorf("expected cluster 0.85, got %v", matching.Cluster)
	}
	if matching.MaxGroupSize != 50 {
		t.Errorf("expected max_group_size 50, got %d", matching.MaxGroupSize)
	}
	if matching.EmbeddingDim != testDim {
		t.Errorf("expected embedding_dim %d, got %d", testDim, matching.EmbeddingDim)
	}
}

func TestConfigProviderAvailability(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.Token = "test-token"
	handler := NewConfigHandler(cfg, newTestEngine(mock.NewMockStore()))

	response := getConfig(t, handler)

	available := make(map[string]bool)
	for _, provider := range response.Providers {
		available[provider.Name] = provider.Available
	}

	if !available["openai"] {
		t.Error("expected openai to be available with a token")
	}
	if available["gemini"] {
		t.Error("expected gemini to be unavailable without an API key")
	}

	// Ollama talks to a local daemon and needs no credentials.
	if !available["ollama"] {
		t.Error("expected ollama to be available")
	}
}

func TestConfigNoDatabaseBackend(t *testing.T) {
	handler := NewConfigHandler(testConfig(), newTestEngine(mock.NewMockStore()))
	response := getConfig(t, handler)

	if response.DatabaseReady {
		t.Error("expected database_ready=false without a registered backend")
	}
	if response.IndexEnabled {
		t.Error("expected index_enabled=false without a registered rebuilder")
	}
}
