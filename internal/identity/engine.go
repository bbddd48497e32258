package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
)

// Engine is the face identity engine. Thresholds are fixed at construction
// time; concurrent calls touching the same person or detection serialize on
// keyed locks, and at most one rebuild pass runs per process.
//
// Lock order is detection keys before person keys, each group sorted.
type Engine struct {
	detections database.DetectionReader
	persons    database.PersonWriter
	identities database.IdentityWriter
	proposals  database.ProposalWriter

	cfg config.MatchingConfig
	dim int

	locks     *keyedMutex
	shortlist *personIndex

	rebuildMu  sync.Mutex
	rebuilding bool
}

// New creates an identity engine on top of the given repositories. dim is
// the expected embedding dimension.
func New(
	detections database.DetectionReader,
	persons database.PersonWriter,
	identities database.IdentityWriter,
	proposals database.ProposalWriter,
	cfg config.MatchingConfig,
	dim int,
) *Engine {
	return &Engine{
		detections: detections,
		persons:    persons,
		identities: identities,
		proposals:  proposals,
		cfg:        cfg,
		dim:        dim,
		locks:      newKeyedMutex(),
		shortlist:  newPersonIndex(),
	}
}

// Config returns the thresholds the engine was built with.
func (e *Engine) Config() config.MatchingConfig {
	return e.cfg
}

// Dim returns the expected embedding dimension.
func (e *Engine) Dim() int {
	return e.dim
}

var (
	registryMu sync.RWMutex
	registered *Engine
)

// Register installs the process-wide engine used by web handlers and CLI
// commands.
func Register(e *Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = e
}

// Default returns the registered engine.
func Default() (*Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if registered == nil {
		return nil, errors.New("identity engine not initialized")
	}
	return registered, nil
}

// keyedMutex serializes operations per string key. Entries are created on
// first use and kept for the process lifetime.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{keys: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for one key and returns its unlock func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.keys[key]
	if !ok {
		m = &sync.Mutex{}
		k.keys[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// lockAll acquires the mutexes for all keys in sorted order, so callers
// locking overlapping sets cannot deadlock. Returns one unlock func.
func (k *keyedMutex) lockAll(keys []string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, k.lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func detectionKey(id int64) string {
	return "detection:" + strconv.FormatInt(id, 10)
}

func personKey(id string) string {
	return "person:" + id
}

// resolvePerson resolves a person reference for assignment or acceptance.
// A name that matches no existing person yields a new unsaved person row
// and created=true; the caller persists it.
func (e *Engine) resolvePerson(ctx context.Context, ref PersonRef) (person *database.StoredPerson, created bool, err error) {
	if ref.PersonID != "" {
		person, err := e.persons.GetPerson(ctx, ref.PersonID)
		if err != nil {
			return nil, false, fmt.Errorf("load person %s: %w", ref.PersonID, err)
		}
		if person == nil {
			return nil, false, notFound("person", ref.PersonID)
		}
		if !person.Active() {
			return nil, false, validationErrorf("person %s was merged into %s", person.ID, person.MergedInto)
		}
		return person, false, nil
	}

	name := strings.TrimSpace(ref.DisplayName)
	if name == "" {
		return nil, false, validationErrorf("person ID or display name required")
	}

	person, err = e.persons.GetPersonByName(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("look up person %q: %w", name, err)
	}
	if person != nil {
		return person, false, nil
	}

	return &database.StoredPerson{
		ID:                uuid.New().String(),
		DisplayName:       name,
		AutoAssignEnabled: true,
	}, true, nil
}

// AssignManually writes an identity linking a detection to a person chosen
// by the operator, bypassing the matching thresholds. The reference may
// name a new person, which is then created. The person becomes confirmed;
// an existing identity on the detection is re-pointed and its previous
// person's centroid recomputed in the same transaction.
func (e *Engine) AssignManually(ctx context.Context, detectionID int64, ref PersonRef) (*database.StoredIdentity, error) {
	det, err := e.detections.Get(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("load detection %d: %w", detectionID, err)
	}
	if det == nil {
		return nil, notFound("detection", detectionID)
	}
	if len(det.Embedding) != e.dim {
		return nil, validationErrorf("detection %d has embedding dimension %d, expected %d",
			detectionID, len(det.Embedding), e.dim)
	}

	unlockDet := e.locks.lock(detectionKey(detectionID))
	defer unlockDet()

	assumed, err := e.identities.GetIdentity(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("load identity of detection %d: %w", detectionID, err)
	}

	person, created, err := e.resolvePerson(ctx, ref)
	if err != nil {
		return nil, err
	}

	personKeys := []string{personKey(person.ID)}
	if assumed != nil {
		personKeys = append(personKeys, personKey(assumed.PersonID))
	}
	unlockPersons := e.locks.lockAll(personKeys)
	defer unlockPersons()

	// A merge may have re-pointed the identity while the person locks
	// were being acquired, so re-read the current owner.
	existing, err := e.identities.GetIdentity(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("load identity of detection %d: %w", detectionID, err)
	}
	if existing != nil && existing.PersonID == person.ID {
		return nil, stateErrorf("detection %d is already assigned to person %s", detectionID, person.ID)
	}

	if created {
		if err := e.persons.CreatePerson(ctx, person); err != nil {
			return nil, fmt.Errorf("create person %q: %w", person.DisplayName, err)
		}
	} else {
		fresh, err := e.persons.GetPerson(ctx, person.ID)
		if err != nil {
			return nil, fmt.Errorf("load person %s: %w", person.ID, err)
		}
		if fresh == nil {
			return nil, notFound("person", person.ID)
		}
		if !fresh.Active() {
			return nil, validationErrorf("person %s was merged into %s", fresh.ID, fresh.MergedInto)
		}
		person = fresh
	}

	similarity := 0.0
	if len(person.Centroid) > 0 {
		similarity = RoundScore(clampConfidence(database.CosineSimilarity(det.Embedding, person.Centroid)))
	}

	identity := database.StoredIdentity{
		DetectionID:  detectionID,
		PersonID:     person.ID,
		Similarity:   similarity,
		AutoAssigned: false,
	}

	updates := []database.PersonUpdate{{
		PersonID: person.ID,
		Centroid: addToCentroid(person.Centroid, person.EmbeddingCount, det.Embedding),
		Count:    person.EmbeddingCount + 1,
		Confirm:  true,
	}}

	// Re-pointing: the previous person loses this detection.
	if existing != nil {
		prev, err := e.recomputePerson(ctx, existing.PersonID, map[int64]struct{}{detectionID: {}})
		if err != nil {
			return nil, err
		}
		updates = append(updates, prev)
	}

	if err := e.identities.ApplyAssignment(ctx, identity, updates); err != nil {
		return nil, fmt.Errorf("apply assignment: %w", err)
	}
	e.shortlist.markDirty()

	return &identity, nil
}

// Unassign removes the identity of a detection and recomputes the former
// person's centroid. NotFoundError when the detection carries no identity.
func (e *Engine) Unassign(ctx context.Context, detectionID int64) error {
	unlockDet := e.locks.lock(detectionKey(detectionID))
	defer unlockDet()

	removed, err := e.removeIdentityLocked(ctx, detectionID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("assignment for detection", detectionID)
	}
	return nil
}

// removeIdentityLocked removes the identity of a detection while the
// caller holds its detection key. Reports whether an identity existed.
func (e *Engine) removeIdentityLocked(ctx context.Context, detectionID int64) (bool, error) {
	assumed, err := e.identities.GetIdentity(ctx, detectionID)
	if err != nil {
		return false, fmt.Errorf("load identity of detection %d: %w", detectionID, err)
	}
	if assumed == nil {
		return false, nil
	}

	unlockPerson := e.locks.lock(personKey(assumed.PersonID))
	defer unlockPerson()

	identity, err := e.identities.GetIdentity(ctx, detectionID)
	if err != nil {
		return false, fmt.Errorf("load identity of detection %d: %w", detectionID, err)
	}
	if identity == nil {
		return false, nil
	}

	update, err := e.recomputePerson(ctx, identity.PersonID, map[int64]struct{}{detectionID: {}})
	if err != nil {
		return false, err
	}

	if err := e.identities.RemoveAssignment(ctx, detectionID, []database.PersonUpdate{update}); err != nil {
		return false, fmt.Errorf("remove assignment: %w", err)
	}
	e.shortlist.markDirty()

	return true, nil
}
