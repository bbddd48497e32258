package identity

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-registry/internal/database"
)

// unionFind is a disjoint-set forest with path compression and union by
// rank, addressing candidates by slice index.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: make([]int, n)}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// RebuildProposals runs one clustering pass over the eligible detections
// and stores the resulting group proposals in a single batch at the end.
// Candidates are processed in detection ID order, so repeated runs over
// the same data produce the same groups. Only one pass may run per
// process; a second call fails with a ConcurrencyError.
func (e *Engine) RebuildProposals(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	e.rebuildMu.Lock()
	if e.rebuilding {
		e.rebuildMu.Unlock()
		return nil, &ConcurrencyError{Message: "a rebuild pass is already running"}
	}
	e.rebuilding = true
	e.rebuildMu.Unlock()
	defer func() {
		e.rebuildMu.Lock()
		e.rebuilding = false
		e.rebuildMu.Unlock()
	}()

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = e.cfg.Cluster
	}
	maxGroup := opts.MaxGroupSize
	if maxGroup <= 0 {
		maxGroup = e.cfg.MaxGroupSize
	}
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = e.cfg.RebuildBatchCap
	}

	report := func(phase string, current, total int, message string) {
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{Phase: phase, Current: current, Total: total, Message: message})
		}
	}

	report("loading", 0, 0, "loading candidate detections")

	var (
		candidates []database.StoredDetection
		err        error
	)
	if opts.IncludeAssigned {
		candidates, err = e.detections.ListEligible(ctx, limit)
	} else {
		candidates, err = e.detections.ListUnassigned(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("load rebuild candidates: %w", err)
	}

	// Detections held by a pending proposal stay out of the pool, so a
	// detection never ends up in two pending proposals at once.
	held, err := e.proposals.GetPendingMemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending members: %w", err)
	}

	pool := make([]database.StoredDetection, 0, len(candidates))
	for _, det := range candidates {
		if _, taken := held[det.ID]; taken {
			continue
		}
		if len(det.Embedding) != e.dim {
			log.Printf("rebuild: skipping detection %d with embedding dimension %d", det.ID, len(det.Embedding))
			continue
		}
		pool = append(pool, det)
	}

	result := &RebuildResult{Examined: len(pool)}
	if len(pool) < 2 {
		return result, nil
	}

	uf := newUnionFind(len(pool))
	for i := range pool {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(pool); j++ {
			if database.CosineSimilarity(pool[i].Embedding, pool[j].Embedding) >= threshold {
				uf.union(i, j)
			}
		}
		report("pairwise", i+1, len(pool), "")
	}

	// Components keyed by root, collected in first-seen index order so the
	// output order follows the lowest detection ID of each group.
	componentOf := make(map[int][]int)
	var roots []int
	for i := range pool {
		root := uf.find(i)
		if _, seen := componentOf[root]; !seen {
			roots = append(roots, root)
		}
		componentOf[root] = append(componentOf[root], i)
	}

	var blocked map[string]struct{}
	if !opts.Force {
		blocked, err = e.proposals.GetBlockedMemberKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("load blocked member keys: %w", err)
		}
	}

	var proposals []database.StoredProposal
	for ci, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members := componentOf[root]
		if len(members) < 2 {
			continue
		}
		if len(members) > maxGroup {
			result.SkippedOversize++
			log.Printf("rebuild: skipping cluster of %d members, limit is %d", len(members), maxGroup)
			continue
		}

		ids := make([]int64, len(members))
		for k, idx := range members {
			ids[k] = pool[idx].ID
		}
		if _, dup := blocked[database.MemberSetKey(ids)]; dup {
			result.SkippedDuplicates++
			continue
		}

		proposal, err := e.buildProposal(ctx, pool, members)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *proposal)
		report("building", ci+1, len(roots), "")
	}

	if len(proposals) > 0 {
		report("saving", 0, len(proposals), "storing proposals")
		if err := e.proposals.InsertProposals(ctx, proposals); err != nil {
			return nil, fmt.Errorf("insert proposals: %w", err)
		}
	}

	result.Created = len(proposals)
	result.Proposals = proposals
	return result, nil
}

// buildProposal assembles one pending proposal from the member indices
// into pool. Member similarities are measured against the group centroid;
// the score summary covers all unordered member pairs.
func (e *Engine) buildProposal(ctx context.Context, pool []database.StoredDetection, members []int) (*database.StoredProposal, error) {
	embeddings := make([][]float32, len(members))
	ids := make([]int64, len(members))
	for k, idx := range members {
		embeddings[k] = pool[idx].Embedding
		ids[k] = pool[idx].ID
	}

	centroid := meanOf(embeddings)

	proposalMembers := make([]database.ProposalMember, len(members))
	for k := range members {
		proposalMembers[k] = database.ProposalMember{
			DetectionID: ids[k],
			Similarity:  RoundScore(database.CosineSimilarity(embeddings[k], centroid)),
		}
	}

	scoreMin, scoreMax, scoreMean := pairwiseScores(embeddings)

	proposal := &database.StoredProposal{
		ID:        uuid.New().String(),
		Status:    database.ProposalPending,
		Members:   proposalMembers,
		ScoreMin:  scoreMin,
		ScoreMax:  scoreMax,
		ScoreMean: scoreMean,
	}

	label, personID, err := e.suggestFor(ctx, ids, centroid)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = "person-" + proposal.ID[:8]
	}
	proposal.SuggestedLabel = label
	proposal.SuggestedPersonID = personID
	return proposal, nil
}

// pairwiseScores returns the min, max and mean cosine similarity over all
// unordered member pairs, rounded to three decimals.
func pairwiseScores(embeddings [][]float32) (scoreMin, scoreMax, scoreMean float64) {
	var sum float64
	pairs := 0
	for i := 0; i < len(embeddings); i++ {
		for j := i + 1; j < len(embeddings); j++ {
			sim := database.CosineSimilarity(embeddings[i], embeddings[j])
			if pairs == 0 || sim < scoreMin {
				scoreMin = sim
			}
			if pairs == 0 || sim > scoreMax {
				scoreMax = sim
			}
			sum += sim
			pairs++
		}
	}
	if pairs == 0 {
		return 0, 0, 0
	}
	return RoundScore(scoreMin), RoundScore(scoreMax), RoundScore(sum / float64(pairs))
}

// suggestFor derives the label suggestion for a group: majority vote over
// the confirmed persons its members are already identified as. Ties break
// on similarity of the person centroid to the group centroid, then on
// person ID. Empty when no member carries a usable identity.
func (e *Engine) suggestFor(ctx context.Context, memberIDs []int64, centroid []float32) (label, personID string, err error) {
	identities, err := e.identities.GetIdentities(ctx, memberIDs)
	if err != nil {
		return "", "", fmt.Errorf("load member identities: %w", err)
	}
	if len(identities) == 0 {
		return "", "", nil
	}

	votes := make(map[string]int)
	for _, identity := range identities {
		votes[identity.PersonID]++
	}

	type rankedPerson struct {
		person database.StoredPerson
		count  int
	}
	var ranked []rankedPerson
	for id, count := range votes {
		person, err := e.persons.GetPerson(ctx, id)
		if err != nil {
			return "", "", fmt.Errorf("load person %s: %w", id, err)
		}
		if person == nil || !person.Confirmed || !person.Active() {
			continue
		}
		ranked = append(ranked, rankedPerson{person: *person, count: count})
	}
	if len(ranked) == 0 {
		return "", "", nil
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		si := database.CosineSimilarity(centroid, ranked[i].person.Centroid)
		sj := database.CosineSimilarity(centroid, ranked[j].person.Centroid)
		if si != sj {
			return si > sj
		}
		return ranked[i].person.ID < ranked[j].person.ID
	})

	return ranked[0].person.DisplayName, ranked[0].person.ID, nil
}
