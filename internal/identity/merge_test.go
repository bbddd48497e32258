package identity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func TestMergePersons(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddDetection(testDetection(3, 1.0))
	store.AddPerson(confirmedPerson("alice", "Alice", meanOf([][]float32{vecAt(0), vecAt(0.1)}), 2))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(1.0), 1))
	store.AddIdentity(database.StoredIdentity{DetectionID: 1, PersonID: "alice"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 2, PersonID: "alice"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 3, PersonID: "bob"})
	engine := newTestEngine(store)

	target, err := engine.MergePersons(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("MergePersons failed: %v", err)
	}
	if target.ID != "bob" {
		t.Fatalf("target = %s, want bob", target.ID)
	}
	if target.EmbeddingCount != 3 {
		t.Errorf("target count = %d, want 3", target.EmbeddingCount)
	}
	wantX := (1 + math.Cos(0.1) + math.Cos(1.0)) / 3
	if !closeTo(float64(target.Centroid[0]), wantX, 1e-3) {
		t.Errorf("target centroid[0] = %v, want %v", target.Centroid[0], wantX)
	}

	source, _ := store.GetPerson(ctx, "alice")
	if source.MergedInto != "bob" {
		t.Errorf("source merged_into = %q, want bob", source.MergedInto)
	}
	if source.EmbeddingCount != 0 || source.Centroid != nil {
		t.Errorf("source should be emptied, got count %d centroid %v",
			source.EmbeddingCount, source.Centroid)
	}

	for _, id := range []int64{1, 2, 3} {
		identity, _ := store.GetIdentity(ctx, id)
		if identity == nil || identity.PersonID != "bob" {
			t.Errorf("identity %d = %+v, want bob", id, identity)
		}
	}
}

func TestMergeEmptySource(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(3, 1.0))
	store.AddPerson(confirmedPerson("alice", "Alice", nil, 0))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(1.0), 1))
	store.AddIdentity(database.StoredIdentity{DetectionID: 3, PersonID: "bob"})
	engine := newTestEngine(store)

	target, err := engine.MergePersons(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("MergePersons failed: %v", err)
	}
	if target.EmbeddingCount != 1 {
		t.Errorf("target count = %d, want 1", target.EmbeddingCount)
	}

	source, _ := store.GetPerson(ctx, "alice")
	if source.MergedInto != "bob" {
		t.Errorf("source merged_into = %q, want bob", source.MergedInto)
	}
}

func TestMergeRejectsBadPairs(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 1))
	store.AddPerson(database.StoredPerson{ID: "gone", DisplayName: "Gone", MergedInto: "alice"})
	engine := newTestEngine(store)

	var serr *StateError
	if _, err := engine.MergePersons(ctx, "alice", "alice"); !errors.As(err, &serr) {
		t.Errorf("self merge: expected StateError, got %v", err)
	}
	if _, err := engine.MergePersons(ctx, "gone", "alice"); !errors.As(err, &serr) {
		t.Errorf("merged-away source: expected StateError, got %v", err)
	}
	if _, err := engine.MergePersons(ctx, "alice", "gone"); !errors.As(err, &serr) {
		t.Errorf("merged-away target: expected StateError, got %v", err)
	}

	var nferr *NotFoundError
	if _, err := engine.MergePersons(ctx, "ghost", "alice"); !errors.As(err, &nferr) {
		t.Errorf("unknown source: expected NotFoundError, got %v", err)
	}
	if _, err := engine.MergePersons(ctx, "alice", "ghost"); !errors.As(err, &nferr) {
		t.Errorf("unknown target: expected NotFoundError, got %v", err)
	}
}
