// Package constants provides shared constants used across the codebase.
package constants

// AI provider names
const (
	// ProviderOpenAI selects the OpenAI vision backend
	ProviderOpenAI = "openai"

	// ProviderGemini selects the Google Gemini vision backend
	ProviderGemini = "gemini"

	// ProviderOllama selects a local Ollama vision backend
	ProviderOllama = "ollama"
)
