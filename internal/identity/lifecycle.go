package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
)

// acceptTarget resolves the person a proposal is accepted into. An
// explicit reference wins; otherwise the stored suggestion is used, with
// the suggested label as fallback when the suggested person has vanished
// or was merged away.
func (e *Engine) acceptTarget(ctx context.Context, proposal *database.StoredProposal, ref PersonRef) (*database.StoredPerson, bool, error) {
	if !ref.Empty() {
		return e.resolvePerson(ctx, ref)
	}

	if proposal.SuggestedPersonID != "" {
		person, err := e.persons.GetPerson(ctx, proposal.SuggestedPersonID)
		if err != nil {
			return nil, false, fmt.Errorf("load person %s: %w", proposal.SuggestedPersonID, err)
		}
		if person != nil && person.Active() {
			return person, false, nil
		}
	}

	label := strings.TrimSpace(proposal.SuggestedLabel)
	if label == "" {
		label = "person-" + proposal.ID[:8]
	}
	return e.resolvePerson(ctx, PersonRef{DisplayName: label})
}

// AcceptProposal turns a pending proposal into identities on one person.
// The target comes from ref when given, otherwise from the stored
// suggestion; an unknown name creates the person. The proposal flip, the
// person row, every member identity and the centroids of any previous
// owners are applied in a single transaction.
func (e *Engine) AcceptProposal(ctx context.Context, proposalID string, ref PersonRef) (*AcceptResult, error) {
	proposal, err := e.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", proposalID, err)
	}
	if proposal == nil {
		return nil, notFound("proposal", proposalID)
	}
	if proposal.Status != database.ProposalPending {
		return nil, stateErrorf("proposal %s is already %s", proposalID, proposal.Status)
	}

	memberIDs := make([]int64, len(proposal.Members))
	detKeys := make([]string, len(proposal.Members))
	for i, m := range proposal.Members {
		memberIDs[i] = m.DetectionID
		detKeys[i] = detectionKey(m.DetectionID)
	}

	unlockDets := e.locks.lockAll(detKeys)
	defer unlockDets()

	detections, err := e.detections.GetBatch(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("load member detections: %w", err)
	}
	byID := make(map[int64]database.StoredDetection, len(detections))
	for _, det := range detections {
		byID[det.ID] = det
	}
	for _, id := range memberIDs {
		if _, ok := byID[id]; !ok {
			return nil, validationErrorf("proposal %s references missing detection %d", proposalID, id)
		}
	}

	owners, err := e.identities.GetIdentities(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("load member identities: %w", err)
	}

	target, created, err := e.acceptTarget(ctx, proposal, ref)
	if err != nil {
		return nil, err
	}

	personKeys := []string{personKey(target.ID)}
	seen := map[string]struct{}{target.ID: {}}
	for _, identity := range owners {
		if _, dup := seen[identity.PersonID]; dup {
			continue
		}
		seen[identity.PersonID] = struct{}{}
		personKeys = append(personKeys, personKey(identity.PersonID))
	}
	unlockPersons := e.locks.lockAll(personKeys)
	defer unlockPersons()

	// A merge may have re-pointed member identities while the person locks
	// were being acquired, so re-read the owners before computing updates.
	owners, err = e.identities.GetIdentities(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("load member identities: %w", err)
	}

	if !created {
		fresh, err := e.persons.GetPerson(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("load person %s: %w", target.ID, err)
		}
		if fresh == nil {
			return nil, notFound("person", target.ID)
		}
		if !fresh.Active() {
			return nil, validationErrorf("person %s was merged into %s", fresh.ID, fresh.MergedInto)
		}
		target = fresh
	}

	memberSet := make(map[int64]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}

	// The new centroid covers the target's surviving members plus every
	// proposal member, each counted once.
	var embeddings [][]float32
	if !created {
		existing, err := e.identities.ListByPerson(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("list identities of person %s: %w", target.ID, err)
		}
		var keepIDs []int64
		for _, identity := range existing {
			if _, member := memberSet[identity.DetectionID]; member {
				continue
			}
			keepIDs = append(keepIDs, identity.DetectionID)
		}
		if len(keepIDs) > 0 {
			kept, err := e.detections.GetBatch(ctx, keepIDs)
			if err != nil {
				return nil, fmt.Errorf("load detections of person %s: %w", target.ID, err)
			}
			for _, det := range kept {
				embeddings = append(embeddings, det.Embedding)
			}
		}
	}
	for _, id := range memberIDs {
		embeddings = append(embeddings, byID[id].Embedding)
	}

	person := *target
	person.Confirmed = true
	person.Centroid = e.centroidOf(embeddings)
	person.EmbeddingCount = len(embeddings)
	if person.SampleDetectionID == 0 {
		person.SampleDetectionID = memberIDs[0]
	}

	identities := make([]database.StoredIdentity, len(proposal.Members))
	for i, m := range proposal.Members {
		identities[i] = database.StoredIdentity{
			DetectionID: m.DetectionID,
			PersonID:    person.ID,
			Similarity:  m.Similarity,
		}
	}

	var otherUpdates []database.PersonUpdate
	recomputed := make(map[string]struct{})
	for _, identity := range owners {
		if identity.PersonID == person.ID {
			continue
		}
		if _, done := recomputed[identity.PersonID]; done {
			continue
		}
		recomputed[identity.PersonID] = struct{}{}
		update, err := e.recomputePerson(ctx, identity.PersonID, memberSet)
		if err != nil {
			return nil, err
		}
		otherUpdates = append(otherUpdates, update)
	}

	app := database.AcceptApplication{
		ProposalID:   proposal.ID,
		Person:       person,
		CreatePerson: created,
		Identities:   identities,
		OtherUpdates: otherUpdates,
		DecidedAt:    time.Now(),
	}
	if err := e.identities.ApplyAcceptance(ctx, app); err != nil {
		if errors.Is(err, database.ErrProposalDecided) {
			return nil, stateErrorf("proposal %s is already decided", proposalID)
		}
		return nil, fmt.Errorf("apply acceptance: %w", err)
	}
	e.shortlist.markDirty()

	decidedAt := app.DecidedAt
	proposal.Status = database.ProposalAccepted
	proposal.DecidedAt = &decidedAt

	return &AcceptResult{
		Proposal:      proposal,
		Person:        &person,
		CreatedPerson: created,
		Assigned:      len(identities),
	}, nil
}

// RejectProposal flips a pending proposal to rejected. No identities are
// written; the member set stays blocked against identical future groups
// unless a rebuild runs with Force.
func (e *Engine) RejectProposal(ctx context.Context, proposalID string) (*database.StoredProposal, error) {
	proposal, err := e.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", proposalID, err)
	}
	if proposal == nil {
		return nil, notFound("proposal", proposalID)
	}
	if proposal.Status != database.ProposalPending {
		return nil, stateErrorf("proposal %s is already %s", proposalID, proposal.Status)
	}

	decidedAt := time.Now()
	if err := e.proposals.MarkRejected(ctx, proposalID, decidedAt); err != nil {
		if errors.Is(err, database.ErrProposalDecided) {
			return nil, stateErrorf("proposal %s is already decided", proposalID)
		}
		return nil, fmt.Errorf("reject proposal: %w", err)
	}

	proposal.Status = database.ProposalRejected
	proposal.DecidedAt = &decidedAt
	return proposal, nil
}
