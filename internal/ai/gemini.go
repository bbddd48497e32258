package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	client      *genai.Client
	usage       Usage
	inputPrice  float64 // per 1M tokens
	outputPrice float64 // per 1M tokens
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing RequestPricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:      client,
		inputPrice:  pricing.Input,
		outputPrice: pricing.Output,
	}, nil
}

func (p *GeminiProvider) GetUsage() *Usage {
	return &p.usage
}

func (p *GeminiProvider) ResetUsage() {
	p.usage = Usage{}
}

func (p *GeminiProvider) trackUsage(inputTokens, outputTokens int32) {
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
	p.usage.TotalCost += float64(inputTokens) / 1_000_000 * p.inputPrice
	p.usage.TotalCost += float64(outputTokens) / 1_000_000 * p.outputPrice
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) SuggestLabel(ctx context.Context, crops [][]byte, hints *GroupHints) (*LabelSuggestion, error) {
	const maxRetries = 5

	if len(crops) == 0 {
		return nil, errors.New("no face crops provided")
	}

	var existing []string
	if hints != nil {
		existing = hints.ExistingLabels
	}
	systemPrompt := buildLabelPrompt(existing)
	userMessage := buildLabelContent(len(crops), hints)

	parts := []*genai.Part{
		{Text: systemPrompt + "\n\n" + userMessage},
	}
	for i, crop := range crops {
		resized, err := ResizeImage(crop, maxCropEdge)
		if err != nil {
			return nil, fmt.Errorf("failed to resize crop %d: %w", i, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"},
		})
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: parts,
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		// Track usage
		if result.UsageMetadata != nil {
			p.trackUsage(result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}
		lastResponse = content

		var suggestion LabelSuggestion
		if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
			lastError = err

			// Add model response and error feedback to contents for retry
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash.", err)}},
				},
			)
			continue
		}

		suggestion.Label = sanitizeLabel(suggestion.Label)
		if suggestion.Label == "" {
			return nil, errors.New("model returned an empty label")
		}
		return &suggestion, nil
	}

	return nil, fmt.Errorf("failed to parse label JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}
