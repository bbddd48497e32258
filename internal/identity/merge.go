package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
)

// MergePersons folds the source person into the target. Every identity of
// the source moves to the target, the target centroid is recomputed over
// the union of members, and the source keeps a tombstone pointing at the
// target so stale references can be followed.
func (e *Engine) MergePersons(ctx context.Context, sourceID, targetID string) (*database.StoredPerson, error) {
	if sourceID == targetID {
		return nil, stateErrorf("cannot merge person %s into itself", sourceID)
	}

	unlock := e.locks.lockAll([]string{personKey(sourceID), personKey(targetID)})
	defer unlock()

	source, err := e.persons.GetPerson(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", sourceID, err)
	}
	if source == nil {
		return nil, notFound("person", sourceID)
	}
	if !source.Active() {
		return nil, stateErrorf("person %s was already merged into %s", sourceID, source.MergedInto)
	}

	target, err := e.persons.GetPerson(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", targetID, err)
	}
	if target == nil {
		return nil, notFound("person", targetID)
	}
	if !target.Active() {
		return nil, stateErrorf("person %s was already merged into %s", targetID, target.MergedInto)
	}

	sourceIdentities, err := e.identities.ListByPerson(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list identities of person %s: %w", sourceID, err)
	}
	targetIdentities, err := e.identities.ListByPerson(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("list identities of person %s: %w", targetID, err)
	}

	// A detection carries at most one identity, so the two sets are
	// disjoint and the union is a plain concatenation.
	memberIDs := make([]int64, 0, len(sourceIdentities)+len(targetIdentities))
	for _, identity := range sourceIdentities {
		memberIDs = append(memberIDs, identity.DetectionID)
	}
	for _, identity := range targetIdentities {
		memberIDs = append(memberIDs, identity.DetectionID)
	}

	var centroid []float32
	count := 0
	if len(memberIDs) > 0 {
		detections, err := e.detections.GetBatch(ctx, memberIDs)
		if err != nil {
			return nil, fmt.Errorf("load member detections: %w", err)
		}
		embeddings := make([][]float32, len(detections))
		for i := range detections {
			embeddings[i] = detections[i].Embedding
		}
		centroid = e.centroidOf(embeddings)
		count = len(detections)
	}

	merge := database.MergeApplication{
		SourceID:       sourceID,
		TargetID:       targetID,
		TargetCentroid: centroid,
		TargetCount:    count,
		MergedAt:       time.Now(),
	}
	if err := e.identities.ApplyMerge(ctx, merge); err != nil {
		return nil, fmt.Errorf("apply merge: %w", err)
	}
	e.shortlist.markDirty()

	merged, err := e.persons.GetPerson(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", targetID, err)
	}
	if merged == nil {
		return nil, notFound("person", targetID)
	}
	return merged, nil
}
