package ai

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed prompts/label_suggestion.txt
var labelSuggestionPrompt string

// maxLabelLength caps sanitized labels; longer suggestions get cut at a
// word boundary.
const maxLabelLength = 60

// buildLabelPrompt returns the system prompt with the taken labels baked in.
func buildLabelPrompt(existingLabels []string) string {
	if len(existingLabels) == 0 {
		existingLabels = []string{}
	}
	labelsJSON, _ := json.Marshal(existingLabels)
	return fmt.Sprintf(labelSuggestionPrompt, string(labelsJSON))
}

// buildLabelContent builds the user message describing the face group.
// This is shared across all AI providers.
func buildLabelContent(cropCount int, hints *GroupHints) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d face crops of the same unidentified person.\n", cropCount)
	if hints != nil {
		if hints.MemberCount > cropCount {
			fmt.Fprintf(&b, "The full group has %d faces.\n", hints.MemberCount)
		}
		if hints.PhotoCount > 0 {
			fmt.Fprintf(&b, "They come from %d different photos.\n", hints.PhotoCount)
		}
	}
	b.WriteString("Suggest a working label.")
	return b.String()
}

// sanitizeLabel normalizes a model answer into something usable as a
// group label: surrounding quotes and punctuation go away, whitespace
// runs collapse, overlong answers get cut at a word boundary.
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.Trim(label, `"'`+"`")
	label = strings.TrimRight(label, ".!")
	label = strings.Join(strings.Fields(label), " ")

	if len(label) <= maxLabelLength {
		return label
	}
	cut := strings.LastIndex(label[:maxLabelLength], " ")
	if cut <= 0 {
		cut = maxLabelLength
	}
	return label[:cut]
}
