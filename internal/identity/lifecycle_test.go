package identity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func pendingProposal(id string, members ...database.ProposalMember) database.StoredProposal {
	return database.StoredProposal{
		ID:             id,
		Status:         database.ProposalPending,
		Members:        members,
		ScoreMin:       0.95,
		ScoreMax:       0.99,
		ScoreMean:      0.97,
		SuggestedLabel: "person-" + id,
	}
}

func TestAcceptCreatesPerson(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddProposal(pendingProposal("prop1",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.97},
	))
	engine := newTestEngine(store)

	result, err := engine.AcceptProposal(ctx, "prop1", PersonRef{DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	if !result.CreatedPerson {
		t.Error("accept should create the person")
	}
	if result.Person.DisplayName != "Alice" {
		t.Errorf("display name = %q, want Alice", result.Person.DisplayName)
	}
	if !result.Person.Confirmed {
		t.Error("accepted person should be confirmed")
	}
	if result.Person.EmbeddingCount != 2 {
		t.Errorf("embedding count = %d, want 2", result.Person.EmbeddingCount)
	}
	if result.Person.SampleDetectionID != 1 {
		t.Errorf("sample detection = %d, want 1", result.Person.SampleDetectionID)
	}
	if result.Assigned != 2 {
		t.Errorf("assigned = %d, want 2", result.Assigned)
	}
	if result.Proposal.Status != database.ProposalAccepted || result.Proposal.DecidedAt == nil {
		t.Errorf("proposal = %+v, want accepted with decided_at", result.Proposal)
	}

	stored, _ := store.GetProposal(ctx, "prop1")
	if stored.Status != database.ProposalAccepted {
		t.Errorf("stored proposal status = %q, want accepted", stored.Status)
	}

	identity, _ := store.GetIdentity(ctx, 1)
	if identity == nil || identity.PersonID != result.Person.ID {
		t.Fatalf("identity = %+v, want person %s", identity, result.Person.ID)
	}
	if identity.Similarity != 0.99 {
		t.Errorf("identity similarity = %v, want the member similarity 0.99", identity.Similarity)
	}
	if identity.AutoAssigned {
		t.Error("accepted identities are operator decisions, not auto assignments")
	}

	person, _ := store.GetPerson(ctx, result.Person.ID)
	if person == nil {
		t.Fatal("person missing from store")
	}
	wantX := (1 + math.Cos(0.1)) / 2
	if !closeTo(float64(person.Centroid[0]), wantX, 1e-3) {
		t.Errorf("centroid[0] = %v, want %v", person.Centroid[0], wantX)
	}
}

func TestAcceptIntoSuggestedPerson(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0.05))
	store.AddDetection(testDetection(2, 0.1))
	store.AddDetection(testDetection(9, 0))
	store.AddPerson(confirmedPerson("bob", "Bob", vecAt(0), 1))
	store.AddIdentity(database.StoredIdentity{DetectionID: 9, PersonID: "bob"})

	proposal := pendingProposal("prop2",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	)
	proposal.SuggestedPersonID = "bob"
	proposal.SuggestedLabel = "Bob"
	store.AddProposal(proposal)
	engine := newTestEngine(store)

	result, err := engine.AcceptProposal(ctx, "prop2", PersonRef{})
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	if result.CreatedPerson {
		t.Error("accept into an existing person must not create one")
	}
	if result.Person.ID != "bob" {
		t.Errorf("person = %s, want bob", result.Person.ID)
	}
	if result.Person.EmbeddingCount != 3 {
		t.Errorf("embedding count = %d, want 3 after adding two members", result.Person.EmbeddingCount)
	}

	identity, _ := store.GetIdentity(ctx, 1)
	if identity == nil || identity.PersonID != "bob" {
		t.Errorf("identity = %+v, want bob", identity)
	}
}

func TestAcceptSuggestedPersonVanished(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))

	proposal := pendingProposal("prop3",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	)
	proposal.SuggestedPersonID = "ghost"
	proposal.SuggestedLabel = "Charlie"
	store.AddProposal(proposal)
	engine := newTestEngine(store)

	result, err := engine.AcceptProposal(ctx, "prop3", PersonRef{})
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	if !result.CreatedPerson {
		t.Error("vanished suggestion should fall back to creating from the label")
	}
	if result.Person.DisplayName != "Charlie" {
		t.Errorf("display name = %q, want Charlie", result.Person.DisplayName)
	}
}

func TestAcceptByNameFindsExisting(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddPerson(confirmedPerson("alice", "Alice", vecAt(0), 0))
	store.AddProposal(pendingProposal("prop4",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	// Lookup is diacritics and case insensitive.
	result, err := engine.AcceptProposal(ctx, "prop4", PersonRef{DisplayName: "alice"})
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	if result.CreatedPerson {
		t.Error("matching name should reuse the existing person")
	}
	if result.Person.ID != "alice" {
		t.Errorf("person = %s, want alice", result.Person.ID)
	}
}

func TestAcceptRePointsMembers(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddDetection(testDetection(9, 1.5))
	store.AddPerson(confirmedPerson("old", "Old", vecAt(0.8), 2))
	store.AddIdentity(database.StoredIdentity{DetectionID: 2, PersonID: "old"})
	store.AddIdentity(database.StoredIdentity{DetectionID: 9, PersonID: "old"})
	store.AddProposal(pendingProposal("prop5",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	result, err := engine.AcceptProposal(ctx, "prop5", PersonRef{DisplayName: "New"})
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}

	identity, _ := store.GetIdentity(ctx, 2)
	if identity == nil || identity.PersonID != result.Person.ID {
		t.Errorf("member 2 identity = %+v, want re-pointed to %s", identity, result.Person.ID)
	}

	old, _ := store.GetPerson(ctx, "old")
	if old.EmbeddingCount != 1 {
		t.Errorf("previous person count = %d, want 1", old.EmbeddingCount)
	}
	if !closeTo(float64(old.Centroid[0]), math.Cos(1.5), 1e-3) {
		t.Errorf("previous person centroid[0] = %v, want %v", old.Centroid[0], math.Cos(1.5))
	}
}

func TestAcceptStateAndLookupErrors(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))

	decided := pendingProposal("done",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	)
	decided.Status = database.ProposalAccepted
	store.AddProposal(decided)

	store.AddPerson(database.StoredPerson{ID: "gone", DisplayName: "Gone", MergedInto: "other"})
	store.AddProposal(pendingProposal("open",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	var serr *StateError
	if _, err := engine.AcceptProposal(ctx, "done", PersonRef{}); !errors.As(err, &serr) {
		t.Errorf("decided proposal: expected StateError, got %v", err)
	}
	var nferr *NotFoundError
	if _, err := engine.AcceptProposal(ctx, "missing", PersonRef{}); !errors.As(err, &nferr) {
		t.Errorf("missing proposal: expected NotFoundError, got %v", err)
	}
	var verr *ValidationError
	if _, err := engine.AcceptProposal(ctx, "open", PersonRef{PersonID: "gone"}); !errors.As(err, &verr) {
		t.Errorf("merged target: expected ValidationError, got %v", err)
	}
}

func TestAcceptMissingDetection(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddProposal(pendingProposal("prop6",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 99, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	var verr *ValidationError
	if _, err := engine.AcceptProposal(ctx, "prop6", PersonRef{DisplayName: "X"}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestAcceptLosesStorageRace(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddProposal(pendingProposal("prop7",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	// A concurrent accept decided the proposal between the read and the
	// transactional apply.
	store.ApplyAcceptanceError = database.ErrProposalDecided
	_, err := engine.AcceptProposal(ctx, "prop7", PersonRef{DisplayName: "X"})
	var serr *StateError
	if !errors.As(err, &serr) {
		t.Errorf("expected StateError, got %v", err)
	}

	if identity, _ := store.GetIdentity(ctx, 1); identity != nil {
		t.Error("failed accept must not leave identities behind")
	}
}

func TestRejectProposal(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	store.AddDetection(testDetection(1, 0))
	store.AddDetection(testDetection(2, 0.1))
	store.AddProposal(pendingProposal("prop8",
		database.ProposalMember{DetectionID: 1, Similarity: 0.99},
		database.ProposalMember{DetectionID: 2, Similarity: 0.98},
	))
	engine := newTestEngine(store)

	rejected, err := engine.RejectProposal(ctx, "prop8")
	if err != nil {
		t.Fatalf("RejectProposal failed: %v", err)
	}
	if rejected.Status != database.ProposalRejected || rejected.DecidedAt == nil {
		t.Errorf("proposal = %+v, want rejected with decided_at", rejected)
	}

	if identity, _ := store.GetIdentity(ctx, 1); identity != nil {
		t.Error("reject must not write identities")
	}

	var serr *StateError
	if _, err := engine.RejectProposal(ctx, "prop8"); !errors.As(err, &serr) {
		t.Errorf("second reject: expected StateError, got %v", err)
	}
	var nferr *NotFoundError
	if _, err := engine.RejectProposal(ctx, "missing"); !errors.As(err, &nferr) {
		t.Errorf("missing proposal: expected NotFoundError, got %v", err)
	}
}
