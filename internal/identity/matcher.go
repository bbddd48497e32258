package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-registry/internal/database"
)

const (
	// shortlistMinPersons is the confirmed-person count above which the
	// matcher consults the approximate index instead of scoring everyone.
	shortlistMinPersons = 256
	// shortlistNeighbors is how many persons the index returns for exact
	// re-ranking.
	shortlistNeighbors = 16
)

// personIndex is an approximate nearest-neighbor index over confirmed
// person centroids. Rebuilt lazily after any centroid write; the matcher
// re-ranks its output with exact similarities before any decision.
type personIndex struct {
	mu    sync.Mutex
	graph *hnsw.Graph[string]
	dirty bool
}

func newPersonIndex() *personIndex {
	return &personIndex{dirty: true}
}

func (p *personIndex) markDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

// shortlist returns the IDs of the persons whose centroids are closest to
// the embedding, rebuilding the graph from the candidates when stale.
func (p *personIndex) shortlist(embedding []float32, candidates []database.StoredPerson, k int) map[string]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dirty || p.graph == nil {
		g := hnsw.NewGraph[string]()
		g.M = database.HNSWMaxNeighbors
		g.Ml = 1.0 / float64(database.HNSWMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		for i := range candidates {
			g.Add(hnsw.MakeNode(candidates[i].ID, candidates[i].Centroid))
		}
		p.graph = g
		p.dirty = false
	}

	ids := make(map[string]struct{}, k)
	for _, node := range p.graph.Search(embedding, k) {
		ids[node.Key] = struct{}{}
	}
	return ids
}

type scoredCandidate struct {
	person     database.StoredPerson
	similarity float64
}

// matchCandidates returns the persons eligible as match targets:
// confirmed, not merged away, with a centroid.
func (e *Engine) matchCandidates(ctx context.Context) ([]database.StoredPerson, error) {
	persons, err := e.persons.ListMatchCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list match candidates: %w", err)
	}
	confirmed := make([]database.StoredPerson, 0, len(persons))
	for _, p := range persons {
		if p.Confirmed {
			confirmed = append(confirmed, p)
		}
	}
	return confirmed, nil
}

// scoreCandidates computes exact similarities of the embedding against the
// candidate centroids, sorted by descending similarity. Above the
// shortlist threshold the approximate index narrows the pool first.
func (e *Engine) scoreCandidates(embedding []float32, candidates []database.StoredPerson) []scoredCandidate {
	pool := candidates
	if e.cfg.UseShortlist && len(candidates) >= shortlistMinPersons {
		ids := e.shortlist.shortlist(embedding, candidates, shortlistNeighbors)
		narrowed := make([]database.StoredPerson, 0, len(ids))
		for i := range candidates {
			if _, ok := ids[candidates[i].ID]; ok {
				narrowed = append(narrowed, candidates[i])
			}
		}
		if len(narrowed) > 0 {
			pool = narrowed
		}
	}

	scored := make([]scoredCandidate, 0, len(pool))
	for i := range pool {
		scored = append(scored, scoredCandidate{
			person:     pool[i],
			similarity: database.CosineSimilarity(embedding, pool[i].Centroid),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].similarity == scored[j].similarity {
			return scored[i].person.ID < scored[j].person.ID
		}
		return scored[i].similarity > scored[j].similarity
	})
	return scored
}

// decide applies the threshold rules to scored candidates. Candidates in
// the result carry every person at or above the suggest threshold, sorted
// by descending similarity.
func (e *Engine) decide(scored []scoredCandidate) (Decision, []Candidate) {
	if len(scored) == 0 {
		return DecisionUnassigned, nil
	}

	s1 := scored[0].similarity
	s2 := -1.0
	if len(scored) > 1 {
		s2 = scored[1].similarity
	}

	var qualifying []Candidate
	for _, s := range scored {
		if s.similarity >= e.cfg.Suggest {
			qualifying = append(qualifying, Candidate{
				PersonID:    s.person.ID,
				DisplayName: s.person.DisplayName,
				Similarity:  RoundScore(s.similarity),
			})
		}
	}

	if s1 >= e.cfg.AutoAssign && (s1-s2) >= e.cfg.ConflictGap && scored[0].person.AutoAssignEnabled {
		return DecisionAutoAssigned, qualifying
	}
	if s1 >= e.cfg.Suggest {
		if len(qualifying) == 1 {
			return DecisionSuggestion, qualifying
		}
		return DecisionConflict, qualifying
	}
	return DecisionUnassigned, nil
}

// Classify decides the identity of one detection. Auto-assignment writes
// the identity and updates the person centroid in one transaction; a
// suggestion, conflict, or unassigned outcome writes nothing. An already
// identified detection yields a StateError unless force is set, in which
// case the old identity is removed first.
func (e *Engine) Classify(ctx context.Context, detectionID int64, force bool) (*ClassifyResult, error) {
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

	existing, err := e.identities.GetIdentity(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("load identity of detection %d: %w", detectionID, err)
	}
	if existing != nil {
		if !force {
			return nil, stateErrorf("detection %d is already identified as person %s",
				detectionID, existing.PersonID)
		}
		if _, err := e.removeIdentityLocked(ctx, detectionID); err != nil {
			return nil, err
		}
	}

	candidates, err := e.matchCandidates(ctx)
	if err != nil {
		return nil, err
	}

	scored := e.scoreCandidates(det.Embedding, candidates)
	decision, qualifying := e.decide(scored)

	result := &ClassifyResult{
		DetectionID: detectionID,
		Decision:    decision,
		Candidates:  qualifying,
	}
	if decision != DecisionAutoAssigned {
		return result, nil
	}

	winner := scored[0]
	unlockPerson := e.locks.lock(personKey(winner.person.ID))
	defer unlockPerson()

	fresh, err := e.persons.GetPerson(ctx, winner.person.ID)
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", winner.person.ID, err)
	}
	if fresh == nil || !fresh.Active() {
		return nil, fmt.Errorf("person %s is no longer assignable", winner.person.ID)
	}

	identity := database.StoredIdentity{
		DetectionID:  detectionID,
		PersonID:     fresh.ID,
		Similarity:   RoundScore(clampConfidence(winner.similarity)),
		AutoAssigned: true,
	}
	update := database.PersonUpdate{
		PersonID: fresh.ID,
		Centroid: addToCentroid(fresh.Centroid, fresh.EmbeddingCount, det.Embedding),
		Count:    fresh.EmbeddingCount + 1,
	}
	if err := e.identities.ApplyAssignment(ctx, identity, []database.PersonUpdate{update}); err != nil {
		return nil, fmt.Errorf("apply auto assignment: %w", err)
	}
	e.shortlist.markDirty()

	result.Identity = &identity
	return result, nil
}

// ClassifyEmbedding scores a raw embedding against the confirmed persons
// and reports the decision classification would take. It never writes;
// callers that want the auto-assign side effect use Classify.
func (e *Engine) ClassifyEmbedding(ctx context.Context, embedding []float32) (*ClassifyResult, error) {
	if len(embedding) != e.dim {
		return nil, validationErrorf("embedding dimension %d, expected %d", len(embedding), e.dim)
	}

	candidates, err := e.matchCandidates(ctx)
	if err != nil {
		return nil, err
	}

	scored := e.scoreCandidates(embedding, candidates)
	decision, qualifying := e.decide(scored)
	return &ClassifyResult{Decision: decision, Candidates: qualifying}, nil
}
