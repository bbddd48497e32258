// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/facematch"
)

// MockStore is an in-memory implementation of all database interfaces.
// The identity writer methods span detections, persons and proposals in one
// transaction in production, so a single combined store keeps the mock
// behavior faithful: an injected error leaves the store untouched.
type MockStore struct {
	mu         sync.RWMutex
	detections map[int64]*database.StoredDetection
	ingested   map[string]int
	persons    map[string]*database.StoredPerson
	identities map[int64]*database.StoredIdentity
	proposals  map[string]*database.StoredProposal

	// Error injection
	GetError              error
	ListUnassignedError   error
	FindSimilarError      error
	SaveDetectionsError   error
	GetPersonError        error
	ListPersonsError      error
	CreatePersonError     error
	UpdatePersonError     error
	GetIdentityError      error
	ListByPersonError     error
	ApplyAssignmentError  error
	RemoveAssignmentError error
	ApplyAcceptanceError  error
	ApplyMergeError       error
	GetProposalError      error
	ListProposalsError    error
	InsertProposalsError  error
	MarkRejectedError     error
}

// NewMockStore creates a new empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		detections: make(map[int64]*database.StoredDetection),
		ingested:   make(map[string]int),
		persons:    make(map[string]*database.StoredPerson),
		identities: make(map[int64]*database.StoredIdentity),
		proposals:  make(map[string]*database.StoredProposal),
	}
}

// AddDetection adds a detection to the mock store.
func (m *MockStore) AddDetection(det database.StoredDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if det.CreatedAt.IsZero() {
		det.CreatedAt = time.Now()
	}
	m.detections[det.ID] = &det
}

// AddPerson adds a person to the mock store.
func (m *MockStore) AddPerson(p database.StoredPerson) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	m.persons[p.ID] = &p
}

// AddIdentity adds an identity to the mock store.
func (m *MockStore) AddIdentity(id database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now()
	}
	m.identities[id.DetectionID] = &id
}

// AddProposal adds a proposal to the mock store.
func (m *MockStore) AddProposal(p database.StoredProposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.proposals[p.ID] = &p
}

// --- DetectionReader ---

// Get retrieves a detection by ID, returns nil if not found.
func (m *MockStore) Get(ctx context.Context, id int64) (*database.StoredDetection, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	det, ok := m.detections[id]
	if !ok {
		return nil, nil
	}
	copy := *det
	return &copy, nil
}

// GetBatch retrieves multiple detections by ID, ordered by ID.
func (m *MockStore) GetBatch(ctx context.Context, ids []int64) ([]database.StoredDetection, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredDetection
	for _, id := range ids {
		if det, ok := m.detections[id]; ok {
			result = append(result, *det)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetByPhoto retrieves all detections for a photo ordered by face index.
func (m *MockStore) GetByPhoto(ctx context.Context, photoUID string) ([]database.StoredDetection, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredDetection
	for _, det := range m.detections {
		if det.PhotoUID == photoUID {
			result = append(result, *det)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FaceIndex < result[j].FaceIndex })
	return result, nil
}

// ListUnassigned returns eligible detections without an identity, ordered by ID.
func (m *MockStore) ListUnassigned(ctx context.Context, limit int) ([]database.StoredDetection, error) {
	if m.ListUnassignedError != nil {
		return nil, m.ListUnassignedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredDetection
	for _, det := range m.detections {
		if _, assigned := m.identities[det.ID]; assigned {
			continue
		}
		if !database.Eligible(det) {
			continue
		}
		result = append(result, *det)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListEligible returns all eligible detections regardless of identity, ordered by ID.
func (m *MockStore) ListEligible(ctx context.Context, limit int) ([]database.StoredDetection, error) {
	if m.ListUnassignedError != nil {
		return nil, m.ListUnassignedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredDetection
	for _, det := range m.detections {
		if !database.Eligible(det) {
			continue
		}
		result = append(result, *det)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// IsIngested checks if face extraction has been run for a photo.
func (m *MockStore) IsIngested(ctx context.Context, photoUID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ingested[photoUID]
	return ok, nil
}

// Count returns the total number of detections.
func (m *MockStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detections), nil
}

// CountUnassigned returns the number of eligible detections without an identity.
func (m *MockStore) CountUnassigned(ctx context.Context) (int, error) {
	dets, err := m.ListUnassigned(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(dets), nil
}

// CountPhotos returns the number of distinct photos with detections.
func (m *MockStore) CountPhotos(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uids := make(map[string]struct{})
	for _, det := range m.detections {
		uids[det.PhotoUID] = struct{}{}
	}
	return len(uids), nil
}

// FindSimilar finds detections with similar embeddings using cosine distance.
func (m *MockStore) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]database.StoredDetection, error) {
	results, _, err := m.FindSimilarWithDistance(ctx, embedding, limit, 2.0)
	return results, err
}

// FindSimilarWithDistance finds similar detections and returns real cosine distances.
func (m *MockStore) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredDetection, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		det  database.StoredDetection
		dist float64
	}
	var all []scored
	for _, det := range m.detections {
		dist := database.CosineDistance(embedding, det.Embedding)
		if dist < maxDistance {
			all = append(all, scored{*det, dist})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	var results []database.StoredDetection
	var distances []float64
	for _, s := range all {
		results = append(results, s.det)
		distances = append(distances, s.dist)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, distances, nil
}

// GetUniquePhotoUIDs returns all unique photo UIDs that have detections.
func (m *MockStore) GetUniquePhotoUIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uidSet := make(map[string]struct{})
	for _, det := range m.detections {
		uidSet[det.PhotoUID] = struct{}{}
	}
	uids := make([]string, 0, len(uidSet))
	for uid := range uidSet {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids, nil
}

// --- DetectionWriter ---

// SaveDetections stores detections for a photo, replacing existing ones.
func (m *MockStore) SaveDetections(
	ctx context.Context, photoUID string, detections []database.StoredDetection,
) error {
	if m.SaveDetectionsError != nil {
		return m.SaveDetectionsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var maxID int64
	for id, det := range m.detections {
		if id > maxID {
			maxID = id
		}
		if det.PhotoUID == photoUID {
			delete(m.detections, id)
		}
	}
	for i := range detections {
		det := detections[i]
		if det.ID == 0 {
			maxID++
			det.ID = maxID
		}
		det.PhotoUID = photoUID
		if det.CreatedAt.IsZero() {
			det.CreatedAt = time.Now()
		}
		m.detections[det.ID] = &det
	}
	return nil
}

// MarkIngested marks a photo as processed for face extraction.
func (m *MockStore) MarkIngested(ctx context.Context, photoUID string, faceCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested[photoUID] = faceCount
	return nil
}

// UpdateMarker updates the cached marker UID for a detection.
func (m *MockStore) UpdateMarker(ctx context.Context, photoUID string, faceIndex int, markerUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, det := range m.detections {
		if det.PhotoUID == photoUID && det.FaceIndex == faceIndex {
			det.MarkerUID = markerUID
		}
	}
	return nil
}

// UpdatePhotoInfo updates cached photo dimensions for all detections of a photo.
func (m *MockStore) UpdatePhotoInfo(
	ctx context.Context, photoUID string, width, height, orientation int, fileUID string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, det := range m.detections {
		if det.PhotoUID == photoUID {
			det.PhotoWidth = width
			det.PhotoHeight = height
			det.Orientation = orientation
			det.FileUID = fileUID
		}
	}
	return nil
}

// DeleteByPhoto removes all detections and ingest records for a photo.
func (m *MockStore) DeleteByPhoto(ctx context.Context, photoUID string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, det := range m.detections {
		if det.PhotoUID == photoUID {
			ids = append(ids, id)
			delete(m.detections, id)
		}
	}
	delete(m.ingested, photoUID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// --- PersonReader ---

// GetPerson retrieves a person by ID, returns nil if not found.
func (m *MockStore) GetPerson(ctx context.Context, id string) (*database.StoredPerson, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

// GetPersonByName retrieves an active person by normalized display name.
func (m *MockStore) GetPersonByName(ctx context.Context, name string) (*database.StoredPerson, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	normalized := facematch.NormalizePersonName(name)
	var match *database.StoredPerson
	for _, p := range m.persons {
		if p.MergedInto != "" {
			continue
		}
		if facematch.NormalizePersonName(p.DisplayName) == normalized {
			if match == nil || p.CreatedAt.Before(match.CreatedAt) {
				match = p
			}
		}
	}
	if match == nil {
		return nil, nil
	}
	copy := *match
	return &copy, nil
}

// ListPersons returns all persons ordered by display name.
func (m *MockStore) ListPersons(ctx context.Context, includeMerged bool) ([]database.StoredPerson, error) {
	if m.ListPersonsError != nil {
		return nil, m.ListPersonsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredPerson
	for _, p := range m.persons {
		if !includeMerged && p.MergedInto != "" {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		a := facematch.NormalizePersonName(result[i].DisplayName)
		b := facematch.NormalizePersonName(result[j].DisplayName)
		if a == b {
			return result[i].ID < result[j].ID
		}
		return a < b
	})
	return result, nil
}

// ListMatchCandidates returns active persons with a centroid, ordered by ID.
func (m *MockStore) ListMatchCandidates(ctx context.Context) ([]database.StoredPerson, error) {
	if m.ListPersonsError != nil {
		return nil, m.ListPersonsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredPerson
	for _, p := range m.persons {
		if p.MergedInto != "" || len(p.Centroid) == 0 {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CountPersons returns the number of active persons.
func (m *MockStore) CountPersons(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, p := range m.persons {
		if p.MergedInto == "" {
			count++
		}
	}
	return count, nil
}

// --- PersonWriter ---

// CreatePerson stores a new person.
func (m *MockStore) CreatePerson(ctx context.Context, person *database.StoredPerson) error {
	if m.CreatePersonError != nil {
		return m.CreatePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	p := *person
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.persons[p.ID] = &p
	return nil
}

// UpdatePersonName changes the display name of a person.
func (m *MockStore) UpdatePersonName(ctx context.Context, id, displayName string) error {
	if m.UpdatePersonError != nil {
		return m.UpdatePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.persons[id]; ok {
		p.DisplayName = displayName
		p.UpdatedAt = time.Now()
	}
	return nil
}

// UpdatePersonFlags changes the confirmed and auto-assign flags.
func (m *MockStore) UpdatePersonFlags(ctx context.Context, id string, confirmed, autoAssign bool) error {
	if m.UpdatePersonError != nil {
		return m.UpdatePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.persons[id]; ok {
		p.Confirmed = confirmed
		p.AutoAssignEnabled = autoAssign
		p.UpdatedAt = time.Now()
	}
	return nil
}

// UpdateSampleDetection changes the avatar detection of a person.
func (m *MockStore) UpdateSampleDetection(ctx context.Context, id string, detectionID int64) error {
	if m.UpdatePersonError != nil {
		return m.UpdatePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.persons[id]; ok {
		p.SampleDetectionID = detectionID
		p.UpdatedAt = time.Now()
	}
	return nil
}

// --- IdentityReader ---

// GetIdentity retrieves the identity of a detection, returns nil if unassigned.
func (m *MockStore) GetIdentity(ctx context.Context, detectionID int64) (*database.StoredIdentity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[detectionID]
	if !ok {
		return nil, nil
	}
	copy := *id
	return &copy, nil
}

// GetIdentities retrieves identities for multiple detections keyed by detection ID.
func (m *MockStore) GetIdentities(
	ctx context.Context, detectionIDs []int64,
) (map[int64]database.StoredIdentity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]database.StoredIdentity, len(detectionIDs))
	for _, id := range detectionIDs {
		if identity, ok := m.identities[id]; ok {
			result[id] = *identity
		}
	}
	return result, nil
}

// ListByPerson returns all identities of a person ordered by detection ID.
func (m *MockStore) ListByPerson(ctx context.Context, personID string) ([]database.StoredIdentity, error) {
	if m.ListByPersonError != nil {
		return nil, m.ListByPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredIdentity
	for _, id := range m.identities {
		if id.PersonID == personID {
			result = append(result, *id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DetectionID < result[j].DetectionID })
	return result, nil
}

// CountIdentities returns the total number of identities.
func (m *MockStore) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// --- IdentityWriter ---

// applyPersonUpdatesLocked writes recomputed centroid state. Caller holds the lock.
func (m *MockStore) applyPersonUpdatesLocked(updates []database.PersonUpdate) {
	for _, u := range updates {
		p, ok := m.persons[u.PersonID]
		if !ok {
			continue
		}
		p.Centroid = u.Centroid
		p.EmbeddingCount = u.Count
		if u.Confirm {
			p.Confirmed = true
		}
		p.UpdatedAt = time.Now()
	}
}

// ApplyAssignment upserts one identity and applies person updates.
func (m *MockStore) ApplyAssignment(
	ctx context.Context, identity database.StoredIdentity, updates []database.PersonUpdate,
) error {
	if m.ApplyAssignmentError != nil {
		return m.ApplyAssignmentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := identity
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now()
	}
	m.identities[id.DetectionID] = &id
	m.applyPersonUpdatesLocked(updates)
	return nil
}

// RemoveAssignment deletes the identity of a detection and applies person updates.
func (m *MockStore) RemoveAssignment(
	ctx context.Context, detectionID int64, updates []database.PersonUpdate,
) error {
	if m.RemoveAssignmentError != nil {
		return m.RemoveAssignmentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.identities, detectionID)
	m.applyPersonUpdatesLocked(updates)
	return nil
}

// ApplyAcceptance applies the full effect of accepting a proposal. An
// injected error leaves the store untouched, matching transaction rollback.
func (m *MockStore) ApplyAcceptance(ctx context.Context, app database.AcceptApplication) error {
	if m.ApplyAcceptanceError != nil {
		return m.ApplyAcceptanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	proposal, ok := m.proposals[app.ProposalID]
	if !ok || proposal.Status != database.ProposalPending {
		return database.ErrProposalDecided
	}

	proposal.Status = database.ProposalAccepted
	decidedAt := app.DecidedAt
	proposal.DecidedAt = &decidedAt

	if app.CreatePerson {
		p := app.Person
		now := time.Now()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		m.persons[p.ID] = &p
	} else if p, ok := m.persons[app.Person.ID]; ok {
		p.Centroid = app.Person.Centroid
		p.EmbeddingCount = app.Person.EmbeddingCount
		p.Confirmed = true
		if p.SampleDetectionID == 0 {
			p.SampleDetectionID = app.Person.SampleDetectionID
		}
		p.UpdatedAt = time.Now()
	}

	for _, identity := range app.Identities {
		id := identity
		if id.CreatedAt.IsZero() {
			id.CreatedAt = time.Now()
		}
		m.identities[id.DetectionID] = &id
	}

	m.applyPersonUpdatesLocked(app.OtherUpdates)
	return nil
}

// ApplyMerge applies the full effect of a person merge.
func (m *MockStore) ApplyMerge(ctx context.Context, merge database.MergeApplication) error {
	if m.ApplyMergeError != nil {
		return m.ApplyMergeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.identities {
		if id.PersonID == merge.SourceID {
			id.PersonID = merge.TargetID
		}
	}
	if source, ok := m.persons[merge.SourceID]; ok {
		source.MergedInto = merge.TargetID
		source.Centroid = nil
		source.EmbeddingCount = 0
		source.UpdatedAt = time.Now()
	}
	if target, ok := m.persons[merge.TargetID]; ok {
		target.Centroid = merge.TargetCentroid
		target.EmbeddingCount = merge.TargetCount
		target.UpdatedAt = time.Now()
	}
	return nil
}

// --- ProposalReader ---

// GetProposal retrieves a proposal, returns nil if not found.
func (m *MockStore) GetProposal(ctx context.Context, id string) (*database.StoredProposal, error) {
	if m.GetProposalError != nil {
		return nil, m.GetProposalError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, nil
	}
	copy := *p
	copy.Members = append([]database.ProposalMember(nil), p.Members...)
	return &copy, nil
}

// ListProposals returns proposals filtered by status, newest first.
func (m *MockStore) ListProposals(
	ctx context.Context, status string, limit, offset int,
) ([]database.StoredProposal, error) {
	if m.ListProposalsError != nil {
		return nil, m.ListProposalsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredProposal
	for _, p := range m.proposals {
		if status != "" && p.Status != status {
			continue
		}
		copy := *p
		copy.Members = append([]database.ProposalMember(nil), p.Members...)
		result = append(result, copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountProposals returns the number of proposals per status.
func (m *MockStore) CountProposals(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, p := range m.proposals {
		counts[p.Status]++
	}
	return counts, nil
}

// GetBlockedMemberKeys returns member-set keys of pending and rejected proposals.
func (m *MockStore) GetBlockedMemberKeys(ctx context.Context) (map[string]struct{}, error) {
	if m.ListProposalsError != nil {
		return nil, m.ListProposalsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]struct{})
	for _, p := range m.proposals {
		if p.Status == database.ProposalPending || p.Status == database.ProposalRejected {
			keys[p.MemberKey()] = struct{}{}
		}
	}
	return keys, nil
}

// GetPendingMemberIDs returns the detection IDs held by pending proposals.
func (m *MockStore) GetPendingMemberIDs(ctx context.Context) (map[int64]struct{}, error) {
	if m.ListProposalsError != nil {
		return nil, m.ListProposalsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make(map[int64]struct{})
	for _, p := range m.proposals {
		if p.Status != database.ProposalPending {
			continue
		}
		for _, member := range p.Members {
			ids[member.DetectionID] = struct{}{}
		}
	}
	return ids, nil
}

// --- ProposalWriter ---

// InsertProposals stores a batch of pending proposals. An injected error
// leaves the store untouched.
func (m *MockStore) InsertProposals(ctx context.Context, proposals []database.StoredProposal) error {
	if m.InsertProposalsError != nil {
		return m.InsertProposalsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range proposals {
		p := proposals[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		m.proposals[p.ID] = &p
	}
	return nil
}

// MarkRejected flips a pending proposal to rejected.
func (m *MockStore) MarkRejected(ctx context.Context, id string, decidedAt time.Time) error {
	if m.MarkRejectedError != nil {
		return m.MarkRejectedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok || p.Status != database.ProposalPending {
		return database.ErrProposalDecided
	}
	p.Status = database.ProposalRejected
	p.DecidedAt = &decidedAt
	return nil
}

// Verify interface compliance.
var _ database.DetectionReader = (*MockStore)(nil)
var _ database.DetectionWriter = (*MockStore)(nil)
var _ database.PersonReader = (*MockStore)(nil)
var _ database.PersonWriter = (*MockStore)(nil)
var _ database.IdentityReader = (*MockStore)(nil)
var _ database.IdentityWriter = (*MockStore)(nil)
var _ database.ProposalReader = (*MockStore)(nil)
var _ database.ProposalWriter = (*MockStore)(nil)
