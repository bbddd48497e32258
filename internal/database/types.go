package database

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// StoredDetection represents a single detected face stored in the database.
// The embedding is L2-normalized by the detector sidecar before it reaches us.
type StoredDetection struct {
	ID        int64
	PhotoUID  string
	FaceIndex int
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore  float64
	Model     string
	Dim       int
	CreatedAt time.Time

	// Cached PhotoPrism data (populated during ingest, refreshed by apply)
	MarkerUID   string // Matching PhotoPrism marker UID (empty if no marker matched)
	FileUID     string // Primary file UID
	PhotoWidth  int    // Primary file width in pixels
	PhotoHeight int    // Primary file height in pixels
	Orientation int    // EXIF orientation (1-8)
}

// StoredPerson represents a person identity. Centroid stays nil until the
// person has at least one identified detection.
type StoredPerson struct {
	ID                string
	DisplayName       string
	Confirmed         bool
	AutoAssignEnabled bool
	MergedInto        string // non-empty once the person was merged away
	Centroid          []float32
	EmbeddingCount    int
	SampleDetectionID int64 // detection used as the avatar, 0 when unset
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Active reports whether the person can receive new identities.
func (p *StoredPerson) Active() bool {
	return p.MergedInto == ""
}

// StoredIdentity links a detection to a person. Similarity records the
// cosine similarity against the person centroid at assignment time.
type StoredIdentity struct {
	DetectionID  int64
	PersonID     string
	Similarity   float64
	AutoAssigned bool
	CreatedAt    time.Time
}

// Proposal status values. Accepted and rejected are terminal.
const (
	ProposalPending  = "pending"
	ProposalAccepted = "accepted"
	ProposalRejected = "rejected"
)

// StoredProposal represents a group proposal produced by a rebuild run.
// Members are ordered by detection ID.
type StoredProposal struct {
	ID                string
	Status            string
	Members           []ProposalMember
	ScoreMin          float64
	ScoreMax          float64
	ScoreMean         float64
	SuggestedLabel    string
	SuggestedPersonID string
	CreatedAt         time.Time
	DecidedAt         *time.Time
}

// ProposalMember is one detection inside a proposal. Similarity is the
// cosine similarity of the member against the group centroid.
type ProposalMember struct {
	DetectionID int64
	Similarity  float64
}

// MemberKey returns the canonical member-set key of the proposal,
// independent of member order.
func (p *StoredProposal) MemberKey() string {
	ids := make([]int64, len(p.Members))
	for i, m := range p.Members {
		ids[i] = m.DetectionID
	}
	return MemberSetKey(ids)
}

// MemberSetKey builds the canonical key for a set of detection IDs.
// Two proposals over the same detections produce the same key.
func MemberSetKey(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// IngestRecord tracks a photo that already went through face extraction,
// so repeated ingest runs can skip it.
type IngestRecord struct {
	PhotoUID  string
	FaceCount int
	CreatedAt time.Time
}

// PersonUpdate carries the recomputed centroid state for one person.
// Writers apply these inside the same transaction as the identity change
// that caused them.
type PersonUpdate struct {
	PersonID string
	Centroid []float32 // nil clears the centroid
	Count    int
	Confirm  bool // sets confirmed, never unsets
}

// AcceptApplication is the full effect of accepting a proposal. Storage
// applies it in a single transaction: the proposal flips to accepted,
// the person row is created or updated, and every member receives an
// identity. Members already identified elsewhere are re-pointed, with
// their previous persons listed in OtherUpdates.
type AcceptApplication struct {
	ProposalID   string
	Person       StoredPerson
	CreatePerson bool
	Identities   []StoredIdentity
	OtherUpdates []PersonUpdate
	DecidedAt    time.Time
}

// MergeApplication is the full effect of merging one person into another,
// applied in a single transaction.
type MergeApplication struct {
	SourceID       string
	TargetID       string
	TargetCentroid []float32
	TargetCount    int
	MergedAt       time.Time
}

// ExportData contains all detection and identity data for export/backup
type ExportData struct {
	Version    int
	ExportedAt time.Time
	Detections []StoredDetection
	Persons    []StoredPerson
	Identities []StoredIdentity
	Proposals  []StoredProposal
	Ingested   []IngestRecord
}

const currentExportVersion = 1
