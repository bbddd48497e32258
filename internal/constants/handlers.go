// Package constants provides shared constants used across the codebase.
package constants

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// DefaultSimilarLimit is the default limit for similar-face search results
	DefaultSimilarLimit = 50

	// MaxSimilarLimit is the largest similar-face result set a request may ask for
	MaxSimilarLimit = 500
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Face crop constants
const (
	// ThumbSize is the maximum dimension of face crop thumbnails served to the UI
	ThumbSize = 160

	// CropPadding is the fraction of bbox size added around a face when cropping
	CropPadding = 0.25
)

// Stats constants
const (
	// StatsCacheTTLMinutes is how long computed registry stats are cached
	StatsCacheTTLMinutes = 10
)
