package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func confirmedPerson(id, name string, centroid []float32, count int) database.StoredPerson {
	return database.StoredPerson{
		ID:                id,
		DisplayName:       name,
		Confirmed:         true,
		AutoAssignEnabled: true,
		Centroid:          centroid,
		EmbeddingCount:    count,
	}
}

func TestClassifyAutoAssign(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0.1))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 2))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(1.2), 3))
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionAutoAssigned {
		t.Fatalf("decision = %s, want %s", result.Decision, DecisionAutoAssigned)
	}
	if result.Identity == nil {
		t.Fatal("auto assignment should carry the written identity")
	}
	if !result.Identity.AutoAssigned {
		t.Error("identity should be marked auto assigned")
	}
	// cos(0.1) rounds to 0.995.
	if result.Identity.Similarity != 0.995 {
		t.Errorf("similarity = %v, want 0.995", result.Identity.Similarity)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].PersonID != "alice" {
		t.Errorf("candidates = %+v, want only alice", result.Candidates)
	}

	stored, _ := store.GetIdentity(ctx, 1)
	if stored == nil || stored.PersonID != "alice" {
		t.Errorf("stored identity = %+v, want alice", stored)
	}
	alice, _ := store.GetPerson(ctx, "alice")
	if alice.EmbeddingCount != 3 {
		t.Errorf("embedding count = %d, want 3", alice.EmbeddingCount)
	}
}

func TestClassifyAutoAssignSingleCandidate(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, math.Acos(0.95)))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	engine := newTestEngine(store)

	// With a single candidate the runner-up similarity defaults to -1, so
	// the gap requirement always holds.
	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionAutoAssigned {
		t.Errorf("decision = %s, want %s", result.Decision, DecisionAutoAssigned)
	}
}

func TestClassifySuggestion(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, math.Acos(0.87)))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionSuggestion {
		t.Fatalf("decision = %s, want %s", result.Decision, DecisionSuggestion)
	}
	if result.Identity != nil {
		t.Error("a suggestion must not write an identity")
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(result.Candidates))
	}
	if result.Candidates[0].Similarity != 0.87 {
		t.Errorf("candidate similarity = %v, want 0.87", result.Candidates[0].Similarity)
	}

	if stored, _ := store.GetIdentity(ctx, 1); stored != nil {
		t.Error("store should stay untouched on a suggestion")
	}
}

func TestClassifyConflict(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(math.Acos(0.95)), 1))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(-math.Acos(0.93)), 1))
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionConflict {
		t.Fatalf("decision = %s, want %s", result.Decision, DecisionConflict)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(result.Candidates))
	}
	if result.Candidates[0].PersonID != "alice" || result.Candidates[1].PersonID != "bob" {
		t.Errorf("candidates not sorted by similarity: %+v", result.Candidates)
	}
	if stored, _ := store.GetIdentity(ctx, 1); stored != nil {
		t.Error("a conflict must not write an identity")
	}
}

func TestClassifyUnassigned(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	// Unconfirmed persons never participate in matching.
	store.AddPerson(database.StoredPerson{
		ID: "draft", DisplayName: "Draft", Centroid: vecAt(0), EmbeddingCount: 1,
	})
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionUnassigned {
		t.Errorf("decision = %s, want %s", result.Decision, DecisionUnassigned)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none", result.Candidates)
	}
}

func TestClassifyBelowSuggest(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 1.0))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionUnassigned {
		t.Errorf("decision = %s, want %s", result.Decision, DecisionUnassigned)
	}
}

func TestClassifyAutoAssignDisabled(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, math.Acos(0.95)))
	person := confirmedPerson("alice", "Alice", vecAt(0), 1)
	person.AutoAssignEnabled = false
	store.AddPerson(person)
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Decision != DecisionSuggestion {
		t.Errorf("decision = %s, want %s when auto assign is disabled", result.Decision, DecisionSuggestion)
	}
	if stored, _ := store.GetIdentity(ctx, 1); stored != nil {
		t.Error("no identity may be written when auto assign is disabled")
	}
}

func TestClassifyAlreadyIdentified(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})
	engine := newTestEngine(store)

	_, err := engine.Classify(ctx, 1, false)
	var serr *StateError
	if !errors.As(err, &serr) {
		t.Errorf("expected StateError, got %v", err)
	}
}

func TestClassifyForceReclassifies(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0.05))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 2))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(0.05), 1))
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "bob", Similarity: 1})
	engine := newTestEngine(store)

	result, err := engine.Classify(ctx, 1, true)
	if err != nil {
		t.Fatalf("Classify with force failed: %v", err)
	}
	if result.Decision != DecisionAutoAssigned {
		t.Fatalf("decision = %s, want %s", result.Decision, DecisionAutoAssigned)
	}

	// Bob lost his only member, so his centroid cleared and he dropped
	// out of the candidate pool before scoring.
	bob, _ := store.GetPerson(ctx, "bob")
	if bob.EmbeddingCount != 0 {
		t.Errorf("previous person count = %d, want 0", bob.EmbeddingCount)
	}
	stored, _ := store.GetIdentity(ctx, 1)
	if stored == nil || stored.PersonID != "alice" {
		t.Errorf("stored identity = %+v, want alice", stored)
	}
}

func TestClassifyInputErrors(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(database.StoredDetection{
		ID: 3, PhotoUID: "photo-3", Embedding: []float32{1, 0},
		BBox: []float64{0, 0, 120, 120}, DetScore: 0.99, Dim: 2,
	})
	engine := newTestEngine(store)

	var nferr *NotFoundError
	if _, err := engine.Classify(ctx, 99, false); !errors.As(err, &nferr) {
		t.Errorf("unknown detection: expected NotFoundError, got %v", err)
	}
	var verr *ValidationError
	if _, err := engine.Classify(ctx, 3, false); !errors.As(err, &verr) {
		t.Errorf("dimension mismatch: expected ValidationError, got %v", err)
	}
}

func TestClassifyEmbedding(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	engine := newTestEngine(store)

	result, err := engine.ClassifyEmbedding(ctx, vecAt(0.05))
	if err != nil {
		t.Fatalf("ClassifyEmbedding failed: %v", err)
	}
	if result.Decision != DecisionAutoAssigned {
		t.Errorf("decision = %s, want %s", result.Decision, DecisionAutoAssigned)
	}
	if result.Identity != nil {
		t.Error("ClassifyEmbedding never writes an identity")
	}

	var verr *ValidationError
	if _, err := engine.ClassifyEmbedding(ctx, []float32{1}); !errors.As(err, &verr) {
		t.Errorf("dimension mismatch: expected ValidationError, got %v", err)
	}
}

func TestPersonIndexShortlist(t *testing.T) {
	persons := []database.StoredPerson{
		confirmedPerson("a", "A", vecAt(0), 1),
		confirmedPerson("b", "B", vecAt(1.0), 1),
		confirmedPerson("c", "C", vecAt(2.0), 1),
	}

	index := newPersonIndex()
	ids := index.shortlist(vecAt(0.05), persons, 2)
	if _, ok := ids["a"]; !ok {
		t.Errorf("shortlist %v should contain the nearest person a", ids)
	}

	// The cached graph ignores new persons until marked dirty.
	persons = append(persons, confirmedPerson("d", "D", vecAt(0.01), 1))
	ids = index.shortlist(vecAt(0.05), persons, 2)
	if _, ok := ids["d"]; ok {
		t.Error("stale index should not know person d yet")
	}

	index.markDirty()
	ids = index.shortlist(vecAt(0.05), persons, 2)
	if _, ok := ids["d"]; !ok {
		t.Errorf("rebuilt index %v should contain person d", ids)
	}
}

func TestClassifyWithShortlist(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))

	// Five persons close to the detection and enough distant ones to push
	// the pool over the shortlist threshold.
	near := []float64{0, 0.05, -0.05, 0.1, -0.1}
	for i, angle := range near {
		store.AddPerson(confirmedPerson(fmt.Sprintf("near-%d", i), fmt.Sprintf("Near %d", i), vecAt(angle), 1))
	}
	for i := 0; i < shortlistMinPersons; i++ {
		angle := 2.5 + float64(i)*0.01
		store.AddPerson(confirmedPerson(fmt.Sprintf("far-%03d", i), fmt.Sprintf("Far %d", i), vecAt(angle), 1))
	}

	cfg := testConfig()
	cfg.UseShortlist = true
	engine := New(store, store, store, store, cfg, testDim)

	result, err := engine.Classify(ctx, 1, false)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	// The two best matches are 0.04 apart at most, so this is a conflict.
	if result.Decision != DecisionConflict {
		t.Fatalf("decision = %s, want %s", result.Decision, DecisionConflict)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].PersonID != "near-0" {
		t.Errorf("best candidate = %+v, want near-0", result.Candidates)
	}
	for _, c := range result.Candidates {
		if c.Similarity < engine.Config().Suggest {
			t.Errorf("candidate %s below suggest threshold: %v", c.PersonID, c.Similarity)
		}
	}
}
