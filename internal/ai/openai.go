package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const chatModel = openai.ChatModelGPT4_1Mini

// maxCropEdge bounds the crops sent to the providers; face thumbnails
// carry enough detail at this size and the payload stays small.
const maxCropEdge = 320

type OpenAIProvider struct {
	client      *openai.Client
	usage       Usage
	inputPrice  float64 // per 1M tokens
	outputPrice float64 // per 1M tokens
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

func NewOpenAIProvider(apiKey string, pricing RequestPricing) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client:      &client,
		inputPrice:  pricing.Input,
		outputPrice: pricing.Output,
	}
}

func (p *OpenAIProvider) GetUsage() *Usage {
	return &p.usage
}

func (p *OpenAIProvider) ResetUsage() {
	p.usage = Usage{}
}

func (p *OpenAIProvider) trackUsage(inputTokens, outputTokens int64) {
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
	p.usage.TotalCost += float64(inputTokens) / 1_000_000 * p.inputPrice
	p.usage.TotalCost += float64(outputTokens) / 1_000_000 * p.outputPrice
}

func (p *OpenAIProvider) Name() string {
	return chatModel
}

func (p *OpenAIProvider) SuggestLabel(ctx context.Context, crops [][]byte, hints *GroupHints) (*LabelSuggestion, error) {
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

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(userMessage),
	}
	for i, crop := range crops {
		resized, err := ResizeImage(crop, maxCropEdge)
		if err != nil {
			return nil, fmt.Errorf("failed to resize crop %d: %w", i, err)
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized),
			Detail: "low",
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(systemPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    chatModel,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(200),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}

		if len(resp.Choices) == 0 {
			return nil, errors.New("no response from OpenAI")
		}

		// Track usage
		if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
			p.trackUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		var suggestion LabelSuggestion
		if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
			lastError = err

			// Add assistant response and error feedback to messages for retry
			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(content),
						},
					},
				},
				openai.ChatCompletionMessageParamUnion{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfString: openai.String(fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash.", err)),
						},
					},
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
