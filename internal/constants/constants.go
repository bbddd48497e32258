// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Matching thresholds
const (
	// DefaultAutoAssignThreshold is the minimum cosine similarity between a
	// detection and a person centroid for an automatic assignment
	DefaultAutoAssignThreshold = 0.93

	// DefaultSuggestThreshold is the minimum cosine similarity for a person
	// to appear as a suggestion candidate
	DefaultSuggestThreshold = 0.85

	// DefaultConflictGap is the minimum margin between the best and second
	// best candidate required for an automatic assignment
	DefaultConflictGap = 0.04
)

// Clustering constants
const (
	// DefaultClusterThreshold is the minimum pairwise similarity for two
	// detections to end up in the same group proposal
	DefaultClusterThreshold = 0.85

	// DefaultMaxGroupSize is the largest group proposal the rebuild pass
	// will create; bigger components are skipped and logged
	DefaultMaxGroupSize = 50

	// DefaultRebuildBatchCap is the maximum number of detections a single
	// rebuild pass considers
	DefaultRebuildBatchCap = 800

	// MinDetScore is the minimum detection confidence for a face to take
	// part in clustering
	MinDetScore = 0.4
)

// Embedding constants
const (
	// EmbeddingDim is the dimensionality of face embeddings produced by the
	// detector sidecar (InsightFace)
	EmbeddingDim = 512

	// ScoreDecimals is the number of decimal places similarities are rounded
	// to before being persisted or exposed
	ScoreDecimals = 3
)

// Centroid constants
const (
	// TrimmedMeanFraction is the fraction of members farthest from the
	// running mean that the trimmed_mean strategy drops
	TrimmedMeanFraction = 0.1

	// MinMembersForTrim is the smallest member count where trimming is
	// applied; below this the trimmed strategy falls back to a plain mean
	MinMembersForTrim = 5
)

// Ingest constants
const (
	// IoUThreshold is the minimum Intersection over Union required to
	// consider a PhotoPrism marker as matching a detected face
	IoUThreshold = 0.1

	// WorkerPoolSize is the default number of parallel workers for ingest
	WorkerPoolSize = 5

	// DefaultPageSize is the default number of items to fetch per API page
	DefaultPageSize = 1000
)

// Matcher shortlist constants
const (
	// ShortlistMinPersons is the confirmed-person count above which the
	// matcher consults the HNSW shortlist instead of scanning all centroids
	ShortlistMinPersons = 256

	// ShortlistSize is the number of shortlist candidates re-ranked exactly
	ShortlistSize = 16
)
