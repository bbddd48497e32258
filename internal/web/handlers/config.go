package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
	engine *identity.Engine
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, engine *identity.Engine) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		engine: engine,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Matching         MatchingInfo   `json:"matching"`
	Providers        []ProviderInfo `json:"providers"`
	PhotoPrismDomain string         `json:"photoprism_domain,omitempty"`
	DatabaseReady    bool           `json:"database_ready"`
	IndexEnabled     bool           `json:"index_enabled"`
}

// MatchingInfo describes the active matching profile and its thresholds
type MatchingInfo struct {
	Profile      string  `json:"profile"`
	AutoAssign   float64 `json:"auto_assign"`
	Suggest      float64 `json:"suggest"`
	ConflictGap  float64 `json:"conflict_gap"`
	Cluster      float64 `json:"cluster"`
	MaxGroupSize int     `json:"max_group_size"`
	EmbeddingDim int     `json:"embedding_dim"`
}

// ProviderInfo represents information about an AI provider
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the active matching thresholds and the available configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	matching := h.engine.Config()

	providers := []ProviderInfo{
		{
			Name:      "openai",
			Available: h.config.OpenAI.Token != "",
		},
		{
			Name:      "gemini",
			Available: h.config.Gemini.APIKey != "",
		},
		{
			Name:      "ollama",
			Available: true, // Always available (local)
		},
	}

	indexEnabled := false
	if rebuilder := database.GetDetectionHNSWRebuilder(); rebuilder != nil {
		indexEnabled = rebuilder.IsHNSWEnabled()
	}

	response := ConfigResponse{
		Matching: MatchingInfo{
			Profile:      matching.Profile,
			AutoAssign:   matching.AutoAssign,
			Suggest:      matching.Suggest,
			ConflictGap:  matching.ConflictGap,
			Cluster:      matching.Cluster,
			MaxGroupSize: matching.MaxGroupSize,
			EmbeddingDim: h.engine.Dim(),
		},
		Providers:        providers,
		PhotoPrismDomain: h.config.PhotoPrism.Domain,
		DatabaseReady:    database.IsInitialized(),
		IndexEnabled:     indexEnabled,
	}

	respondJSON(w, http.StatusOK, response)
}
