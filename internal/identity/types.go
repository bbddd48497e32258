// Package identity implements the face identity engine: threshold-based
// matching of detections against person centroids, union-find clustering of
// unassigned faces into group proposals, the proposal accept/reject
// lifecycle, and person merges. All writes go through the database
// transactional writers so identities and centroids never drift apart.
package identity

import (
	"github.com/kozaktomas/face-registry/internal/database"
)

// Decision is the outcome kind of a classification.
type Decision string

const (
	// DecisionAutoAssigned means an identity was written for the top person.
	DecisionAutoAssigned Decision = "auto_assigned"
	// DecisionSuggestion means exactly one person qualifies; nothing written.
	DecisionSuggestion Decision = "suggestion"
	// DecisionConflict means several persons qualify; the caller must pick.
	// A conflict is a distinguished result, not an error.
	DecisionConflict Decision = "conflict"
	// DecisionUnassigned means no person qualifies; nothing written.
	DecisionUnassigned Decision = "unassigned"
)

// Candidate is one person considered during classification.
type Candidate struct {
	PersonID    string  `json:"person_id"`
	DisplayName string  `json:"display_name"`
	Similarity  float64 `json:"similarity"`
}

// ClassifyResult is the outcome of classifying one detection.
// Candidates carries every person at or above the suggest threshold,
// sorted by descending similarity. Identity is set only on auto-assign.
type ClassifyResult struct {
	DetectionID int64
	Decision    Decision
	Candidates  []Candidate
	Identity    *database.StoredIdentity
}

// PersonRef selects a person either by ID or by display name. Accept and
// manual assignment resolve a name to an existing person (diacritics and
// dash insensitive) or create a new one under that name.
type PersonRef struct {
	PersonID    string
	DisplayName string
}

// Empty reports whether the reference selects nothing.
func (r PersonRef) Empty() bool {
	return r.PersonID == "" && r.DisplayName == ""
}

// ProgressInfo carries rebuild progress for callbacks.
type ProgressInfo struct {
	Phase   string // "loading", "pairwise", "building", "saving"
	Current int
	Total   int
	Message string
}

// RebuildOptions controls one proposal rebuild pass. Zero values fall back
// to the engine configuration.
type RebuildOptions struct {
	Threshold       float64 // min pairwise similarity for an edge
	MaxGroupSize    int     // oversized components are skipped, not split
	BatchLimit      int     // max candidate detections loaded
	IncludeAssigned bool    // also cluster already-identified detections
	Force           bool    // ignore the pending/rejected dedup window
	OnProgress      func(ProgressInfo)
}

// RebuildResult reports what one rebuild pass did. Proposals contains the
// created proposals in creation order.
type RebuildResult struct {
	Examined          int
	Created           int
	SkippedDuplicates int
	SkippedOversize   int
	Proposals         []database.StoredProposal
}

// AcceptResult reports a successful proposal acceptance.
type AcceptResult struct {
	Proposal      *database.StoredProposal
	Person        *database.StoredPerson
	CreatedPerson bool
	Assigned      int
}
