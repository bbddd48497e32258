// Package ai suggests working labels for unidentified face groups. A
// vision model looks at a handful of face crops from one group proposal
// and proposes a short neutral description ("man with glasses") so the
// group is easy to tell apart in a review list before anyone names it.
package ai

import "context"

// GroupHints carries context about the face group that helps the model
// phrase a useful label.
type GroupHints struct {
	MemberCount    int      // faces in the group, may exceed the number of crops sent
	PhotoCount     int      // distinct photos the faces come from
	ExistingLabels []string // labels already taken, the model should avoid them
}

// Provider defines the interface for label suggestion backends.
type Provider interface {
	Name() string
	SuggestLabel(ctx context.Context, crops [][]byte, hints *GroupHints) (*LabelSuggestion, error)

	// Usage tracking.
	GetUsage() *Usage
	ResetUsage()
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// LabelSuggestion is the model's proposed label for a face group.
type LabelSuggestion struct {
	// Label is a short neutral description, 2-4 words.
	Label string `json:"label"`
	// Confidence score 0-1 for the label.
	Confidence float64 `json:"confidence"`
	// Reasoning for the label, one sentence.
	Reasoning string `json:"reasoning,omitempty"`
}
