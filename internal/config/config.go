package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

//go:embed profiles.yaml
var profilesYAML []byte

type Config struct {
	PhotoPrism PhotoPrismConfig
	Detector   DetectorConfig
	Matching   MatchingConfig
	AI         AIConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	Database   DatabaseConfig
	Prices     PricesConfig
	Profiles   ProfilesConfig
}

type PhotoPrismConfig struct {
	URL         string
	Username    string
	Password    string
	Domain      string // public domain for generating photo links (e.g., https://photos.example.com)
	DatabaseURL string // MariaDB DSN for direct database access (e.g., photoprism:photoprism@tcp(mariadb:3306)/photoprism)
}

// PhotoURL returns an OSC 8 hyperlink for terminal emulators (iTerm2, etc.)
// Displays the UID but makes it clickable to open the photo in PhotoPrism
// Returns empty string if Domain is not set
func (c *PhotoPrismConfig) PhotoURL(uid string) string {
	if c.Domain == "" {
		return ""
	}
	url := c.Domain + "/library/browse?view=cards&order=oldest&q=uid:" + uid
	// OSC 8 hyperlink format: \e]8;;URL\e\\TEXT\e]8;;\e\\
	return "\x1b]8;;" + url + "\x1b\\" + uid + "\x1b]8;;\x1b\\"
}

type DetectorConfig struct {
	URL   string // defaults to http://localhost:8000
	Model string // defaults to insightface
	Dim   int    // defaults to 512
}

// MatchingConfig holds the identity engine thresholds. The values are
// resolved once in Load (profile first, env overrides second) and treated
// as immutable afterwards.
type MatchingConfig struct {
	Profile          string  // profile name from profiles.yaml (default "default")
	AutoAssign       float64 // min similarity for automatic assignment
	Suggest          float64 // min similarity to appear as a suggestion
	ConflictGap      float64 // min margin between best and second best for auto-assign
	Cluster          float64 // min pairwise similarity for group proposals
	MaxGroupSize     int     // largest proposal the rebuild pass creates
	RebuildBatchCap  int     // max detections per rebuild pass
	CentroidStrategy string  // "mean" or "trimmed_mean"
	UseShortlist     bool    // allow HNSW shortlist in the matcher
}

// AIConfig selects the label assistant backend. An empty provider leaves
// the assistant disabled.
type AIConfig struct {
	Provider string // "openai", "gemini" or "ollama"
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the detection HNSW index (optional, if empty index is rebuilt on startup)
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Standard RequestPricing `yaml:"standard"`
	Batch    RequestPricing `yaml:"batch"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type ProfilesConfig struct {
	Profiles map[string]MatchingProfile `yaml:"profiles"`
}

// MatchingProfile is a named set of engine thresholds from profiles.yaml.
type MatchingProfile struct {
	AutoAssign  float64 `yaml:"auto_assign"`
	Suggest     float64 `yaml:"suggest"`
	ConflictGap float64 `yaml:"conflict_gap"`
	Cluster     float64 `yaml:"cluster"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
// Returns the default value if the env var is unset, empty, or out of range.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	var profiles ProfilesConfig
	if err := yaml.Unmarshal(profilesYAML, &profiles); err != nil {
		panic("failed to unmarshal embedded profiles.yaml: " + err.Error())
	}

	return &Config{
		PhotoPrism: PhotoPrismConfig{
			URL:         os.Getenv("PHOTOPRISM_URL"),
			Username:    os.Getenv("PHOTOPRISM_USERNAME"),
			Password:    os.Getenv("PHOTOPRISM_PASSWORD"),
			Domain:      os.Getenv("PHOTOPRISM_DOMAIN"),
			DatabaseURL: os.Getenv("PHOTOPRISM_DATABASE_URL"),
		},
		Detector: DetectorConfig{
			URL:   os.Getenv("DETECTOR_URL"),
			Model: envString("DETECTOR_MODEL", "insightface"),
			Dim:   envInt("DETECTOR_DIM", 512),
		},
		Matching: resolveMatching(profiles),
		AI: AIConfig{
			Provider: os.Getenv("AI_PROVIDER"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Prices:   prices,
		Profiles: profiles,
	}
}

// resolveMatching builds the matching config from the selected profile and
// applies per-threshold env overrides on top.
func resolveMatching(profiles ProfilesConfig) MatchingConfig {
	name := envString("MATCHING_PROFILE", "default")
	profile, ok := profiles.Profiles[name]
	if !ok {
		name = "default"
		profile = profiles.Profiles[name]
	}

	return MatchingConfig{
		Profile:          name,
		AutoAssign:       envFloat("MATCHING_AUTO_THRESHOLD", profile.AutoAssign),
		Suggest:          envFloat("MATCHING_SUGGEST_THRESHOLD", profile.Suggest),
		ConflictGap:      envFloat("MATCHING_CONFLICT_GAP", profile.ConflictGap),
		Cluster:          envFloat("MATCHING_CLUSTER_THRESHOLD", profile.Cluster),
		MaxGroupSize:     envInt("MATCHING_MAX_GROUP_SIZE", 50),
		RebuildBatchCap:  envInt("MATCHING_REBUILD_BATCH_CAP", 800),
		CentroidStrategy: envString("CENTROID_STRATEGY", "mean"),
		UseShortlist:     os.Getenv("MATCHING_USE_SHORTLIST") == "true",
	}
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return ModelPricing{}
}
