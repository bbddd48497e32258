package database

import (
	"context"
	"errors"
	"time"
)

// ErrProposalDecided is returned by proposal writers when the target
// proposal is no longer pending. Callers translate it into a state error.
var ErrProposalDecided = errors.New("proposal already decided")

// DetectionReader provides read-only access to face detections
type DetectionReader interface {
	// Get retrieves a detection by ID, returns nil if not found
	Get(ctx context.Context, id int64) (*StoredDetection, error)
	// GetBatch retrieves multiple detections by ID, missing IDs are skipped
	GetBatch(ctx context.Context, ids []int64) ([]StoredDetection, error)
	// GetByPhoto retrieves all detections for a photo
	GetByPhoto(ctx context.Context, photoUID string) ([]StoredDetection, error)
	// ListUnassigned returns eligible detections without an identity,
	// ordered by ID. A limit of 0 means no limit.
	ListUnassigned(ctx context.Context, limit int) ([]StoredDetection, error)
	// ListEligible returns all eligible detections regardless of identity,
	// ordered by ID. A limit of 0 means no limit.
	ListEligible(ctx context.Context, limit int) ([]StoredDetection, error)
	// IsIngested checks if face extraction has been run for a photo
	// (regardless of whether faces were found)
	IsIngested(ctx context.Context, photoUID string) (bool, error)
	// Count returns the total number of detections stored
	Count(ctx context.Context) (int, error)
	// CountUnassigned returns the number of eligible detections without an identity
	CountUnassigned(ctx context.Context) (int, error)
	// CountPhotos returns the number of distinct photos with detections
	CountPhotos(ctx context.Context) (int, error)
	// FindSimilar finds detections with similar embeddings using cosine distance
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]StoredDetection, error)
	// FindSimilarWithDistance finds similar detections and returns distances
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StoredDetection, []float64, error)
	// GetUniquePhotoUIDs returns all unique photo UIDs that have detections
	GetUniquePhotoUIDs(ctx context.Context) ([]string, error)
}

// DetectionWriter provides write access to face detections
type DetectionWriter interface {
	DetectionReader

	// SaveDetections stores multiple detections for a photo
	// (replaces existing detections for that photo)
	SaveDetections(ctx context.Context, photoUID string, detections []StoredDetection) error

	// MarkIngested marks a photo as having been processed for face extraction
	MarkIngested(ctx context.Context, photoUID string, faceCount int) error

	// UpdateMarker updates the cached marker data for a specific detection.
	// Used to keep the cache in sync after apply runs.
	UpdateMarker(ctx context.Context, photoUID string, faceIndex int, markerUID string) error

	// UpdatePhotoInfo updates the cached photo dimensions and file info
	// for all detections of a photo
	UpdatePhotoInfo(ctx context.Context, photoUID string, width, height, orientation int, fileUID string) error

	// DeleteByPhoto removes all detections and ingest records for a photo.
	// Returns the deleted detection IDs for HNSW cleanup.
	DeleteByPhoto(ctx context.Context, photoUID string) ([]int64, error)
}

// PersonReader provides read-only access to person identities
type PersonReader interface {
	// GetPerson retrieves a person by ID, returns nil if not found
	GetPerson(ctx context.Context, id string) (*StoredPerson, error)
	// GetPersonByName retrieves a person by display name, returns nil if
	// not found. Names are normalized before comparison (lowercase, no
	// diacritics, dashes to spaces) so "jan-novak" matches "Jan Novák".
	GetPersonByName(ctx context.Context, name string) (*StoredPerson, error)
	// ListPersons returns all persons ordered by display name.
	// Merged-away persons are excluded unless includeMerged is set.
	ListPersons(ctx context.Context, includeMerged bool) ([]StoredPerson, error)
	// ListMatchCandidates returns persons that can receive new identities:
	// not merged away, with a centroid, auto-assign enabled or not
	ListMatchCandidates(ctx context.Context) ([]StoredPerson, error)
	// CountPersons returns the number of active persons
	CountPersons(ctx context.Context) (int, error)
}

// PersonWriter provides write access to person identities
type PersonWriter interface {
	PersonReader

	// CreatePerson stores a new person
	CreatePerson(ctx context.Context, person *StoredPerson) error

	// UpdatePersonName changes the display name of a person
	UpdatePersonName(ctx context.Context, id, displayName string) error

	// UpdatePersonFlags changes the confirmed and auto-assign flags
	UpdatePersonFlags(ctx context.Context, id string, confirmed, autoAssign bool) error

	// UpdateSampleDetection changes the avatar detection of a person
	UpdateSampleDetection(ctx context.Context, id string, detectionID int64) error
}

// IdentityReader provides read-only access to detection-person links
type IdentityReader interface {
	// GetIdentity retrieves the identity of a detection, returns nil if unassigned
	GetIdentity(ctx context.Context, detectionID int64) (*StoredIdentity, error)
	// GetIdentities retrieves identities for multiple detections,
	// keyed by detection ID. Unassigned detections are absent.
	GetIdentities(ctx context.Context, detectionIDs []int64) (map[int64]StoredIdentity, error)
	// ListByPerson returns all identities of a person ordered by detection ID
	ListByPerson(ctx context.Context, personID string) ([]StoredIdentity, error)
	// CountIdentities returns the total number of identities
	CountIdentities(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to detection-person links.
// Every method runs in a single transaction so that identity rows and
// person centroids never drift apart.
type IdentityWriter interface {
	IdentityReader

	// ApplyAssignment upserts one identity and applies the person updates
	// caused by it in the same transaction
	ApplyAssignment(ctx context.Context, identity StoredIdentity, updates []PersonUpdate) error

	// RemoveAssignment deletes the identity of a detection and applies
	// the person updates caused by it in the same transaction
	RemoveAssignment(ctx context.Context, detectionID int64, updates []PersonUpdate) error

	// ApplyAcceptance applies the full effect of accepting a proposal in
	// a single transaction. Returns ErrProposalDecided when the proposal
	// is no longer pending.
	ApplyAcceptance(ctx context.Context, app AcceptApplication) error

	// ApplyMerge applies the full effect of a person merge in a single
	// transaction: identities move to the target, the source is marked
	// merged, the target centroid is replaced.
	ApplyMerge(ctx context.Context, merge MergeApplication) error
}

// ProposalReader provides read-only access to group proposals
type ProposalReader interface {
	// GetProposal retrieves a proposal with members, returns nil if not found
	GetProposal(ctx context.Context, id string) (*StoredProposal, error)
	// ListProposals returns proposals filtered by status (empty status
	// means all), newest first
	ListProposals(ctx context.Context, status string, limit, offset int) ([]StoredProposal, error)
	// CountProposals returns the number of proposals per status
	CountProposals(ctx context.Context) (map[string]int, error)
	// GetBlockedMemberKeys returns the member-set keys of all pending and
	// rejected proposals. Rebuild uses them to skip duplicate groups.
	GetBlockedMemberKeys(ctx context.Context) (map[string]struct{}, error)
	// GetPendingMemberIDs returns the detection IDs held by pending
	// proposals. A detection belongs to at most one pending proposal, so
	// rebuild excludes these from its candidate pool.
	GetPendingMemberIDs(ctx context.Context) (map[int64]struct{}, error)
}

// ProposalWriter provides write access to group proposals
type ProposalWriter interface {
	ProposalReader

	// InsertProposals stores a batch of pending proposals with their
	// members in a single transaction
	InsertProposals(ctx context.Context, proposals []StoredProposal) error

	// MarkRejected flips a pending proposal to rejected. Returns
	// ErrProposalDecided when the proposal is no longer pending.
	MarkRejected(ctx context.Context, id string, decidedAt time.Time) error
}
