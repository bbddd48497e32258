package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kozaktomas/face-registry/internal/ai"
	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/web/middleware"
)

// maxAssistCrops is the number of face crops sent to the vision model per
// proposal. More members do not improve the label and cost tokens.
const maxAssistCrops = 4

// assistCropSize bounds the crops the handler prepares; providers scale
// them down further before upload.
const assistCropSize = 320

// AssistHandler suggests working labels for pending group proposals. A
// vision model looks at a few member face crops and proposes a short
// neutral description so the group is easy to recognize in a review list.
type AssistHandler struct {
	config     *config.Config
	proposals  database.ProposalReader
	detections database.DetectionReader
}

// NewAssistHandler creates a new assist handler
func NewAssistHandler(cfg *config.Config, proposals database.ProposalReader, detections database.DetectionReader) *AssistHandler {
	return &AssistHandler{
		config:     cfg,
		proposals:  proposals,
		detections: detections,
	}
}

type suggestLabelRequest struct {
	ProposalID string `json:"proposal_id"`
}

// SuggestLabelResponse carries the model's label proposal for one group
type SuggestLabelResponse struct {
	ProposalID string    `json:"proposal_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Provider   string    `json:"provider"`
	Usage      *ai.Usage `json:"usage,omitempty"`
}

// SuggestLabel asks the configured vision model for a working label for a
// pending proposal. The label is returned to the caller, not persisted;
// accepting the proposal with a display name is a separate step.
func (h *AssistHandler) SuggestLabel(w http.ResponseWriter, r *http.Request) {
	var req suggestLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.ProposalID == "" {
		respondError(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	ctx := r.Context()

	proposal, err := h.proposals.GetProposal(ctx, req.ProposalID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if proposal == nil {
		respondError(w, http.StatusNotFound, "proposal not found")
		return
	}
	if proposal.Status != database.ProposalPending {
		respondError(w, http.StatusConflict, "proposal already decided")
		return
	}

	provider, err := h.createAIProvider(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	pp := middleware.MustGetPhotoPrism(ctx, w)
	if pp == nil {
		return
	}

	crops, photoCount, err := h.collectCrops(ctx, pp, proposal)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to prepare face crops: %v", err))
		return
	}

	hints := &ai.GroupHints{
		MemberCount:    len(proposal.Members),
		PhotoCount:     photoCount,
		ExistingLabels: h.pendingLabels(ctx, proposal.ID),
	}

	suggestion, err := provider.SuggestLabel(ctx, crops, hints)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("label suggestion failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, SuggestLabelResponse{
		ProposalID: proposal.ID,
		Label:      suggestion.Label,
		Confidence: suggestion.Confidence,
		Reasoning:  suggestion.Reasoning,
		Provider:   provider.Name(),
		Usage:      provider.GetUsage(),
	})
}

// photoDownloader is the slice of the PhotoPrism client the crop
// collection needs; tests substitute a local stub.
type photoDownloader interface {
	GetPhotoDownload(uid string) ([]byte, string, error)
}

// collectCrops downloads the member photos and cuts out the face boxes.
// It stops after maxAssistCrops; members whose photo cannot be fetched or
// decoded are skipped, because a partial crop set still yields a usable
// label. Returns the crops and the number of distinct photos in the group.
func (h *AssistHandler) collectCrops(ctx context.Context, pp photoDownloader, proposal *database.StoredProposal) ([][]byte, int, error) {
	ids := make([]int64, len(proposal.Members))
	for i, m := range proposal.Members {
		ids[i] = m.DetectionID
	}

	detections, err := h.detections.GetBatch(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("load proposal members: %w", err)
	}

	photos := make(map[string]struct{})
	for _, det := range detections {
		photos[det.PhotoUID] = struct{}{}
	}

	// One photo can hold several member faces; reuse the downloaded bytes.
	downloaded := make(map[string][]byte)
	crops := make([][]byte, 0, maxAssistCrops)
	for _, det := range detections {
		if len(crops) >= maxAssistCrops {
			break
		}

		data, ok := downloaded[det.PhotoUID]
		if !ok {
			data, _, err = pp.GetPhotoDownload(det.PhotoUID)
			if err != nil {
				continue
			}
			downloaded[det.PhotoUID] = data
		}

		crop, err := ai.CropFace(data, det.BBox, constants.CropPadding, assistCropSize)
		if err != nil {
			continue
		}
		crops = append(crops, crop)
	}

	if len(crops) == 0 {
		return nil, 0, errors.New("no member photo could be downloaded")
	}
	return crops, len(photos), nil
}

// pendingLabels returns the suggested labels already carried by other
// pending proposals, so the model avoids handing out duplicates. Lookup
// failures just mean no hints.
func (h *AssistHandler) pendingLabels(ctx context.Context, excludeID string) []string {
	pending, err := h.proposals.ListProposals(ctx, database.ProposalPending, constants.DefaultHandlerPageSize, 0)
	if err != nil {
		return nil
	}

	var labels []string
	for _, p := range pending {
		if p.ID == excludeID || p.SuggestedLabel == "" {
			continue
		}
		labels = append(labels, p.SuggestedLabel)
	}
	return labels
}

func (h *AssistHandler) createAIProvider(ctx context.Context) (ai.Provider, error) {
	switch h.config.AI.Provider {
	case constants.ProviderOpenAI:
		return h.createOpenAIProvider()
	case constants.ProviderGemini:
		return h.createGeminiProvider(ctx)
	case constants.ProviderOllama:
		return ai.NewOllamaProvider(h.config.Ollama.URL, h.config.Ollama.Model), nil
	case "":
		return nil, errors.New("AI provider not configured (AI_PROVIDER)")
	default:
		return nil, fmt.Errorf("unknown provider: %s", h.config.AI.Provider)
	}
}

func (h *AssistHandler) createOpenAIProvider() (ai.Provider, error) {
	if h.config.OpenAI.Token == "" {
		return nil, errors.New("OPENAI_TOKEN environment variable is required")
	}
	pricing := h.config.GetModelPricing("gpt-4.1-mini")
	return ai.NewOpenAIProvider(h.config.OpenAI.Token,
		ai.RequestPricing{Input: pricing.Standard.Input, Output: pricing.Standard.Output},
	), nil
}

func (h *AssistHandler) createGeminiProvider(ctx context.Context) (ai.Provider, error) {
	if h.config.Gemini.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable is required")
	}
	pricing := h.config.GetModelPricing("gemini-2.5-flash")
	provider, err := ai.NewGeminiProvider(ctx, h.config.Gemini.APIKey,
		ai.RequestPricing{Input: pricing.Standard.Input, Output: pricing.Standard.Output},
	)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini provider: %w", err)
	}
	return provider, nil
}
