package identity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kozaktomas/face-registry/internal/database"
)

// Centroid strategies. The full recompute after accept, merge, and
// unassign honors the configured strategy; the incremental update after a
// single assignment is always the exact running mean.
const (
	StrategyMean        = "mean"
	StrategyTrimmedMean = "trimmed_mean"

	// trimmedMeanFraction is the share of members farthest from the
	// running mean that the trimmed strategy drops before averaging.
	trimmedMeanFraction = 0.1
)

// RoundScore rounds a similarity to the 3 decimals used everywhere a
// score is persisted or exposed.
func RoundScore(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// clampConfidence keeps a stored identity confidence inside [0, 1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// meanOf returns the arithmetic mean of the embeddings, nil for an empty
// set. All embeddings must share one dimension.
func meanOf(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	sum := make([]float64, dim)
	for _, e := range embeddings {
		for i, v := range e {
			sum[i] += float64(v)
		}
	}
	mean := make([]float32, dim)
	n := float64(len(embeddings))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return mean
}

// trimmedMeanOf drops the trimmedMeanFraction of embeddings farthest from
// the running mean, then averages the rest. At least one member is always
// kept.
func trimmedMeanOf(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	running := meanOf(embeddings)

	type scored struct {
		index int
		dist  float64
	}
	distances := make([]scored, len(embeddings))
	for i, e := range embeddings {
		distances[i] = scored{index: i, dist: database.CosineDistance(running, e)}
	}
	sort.Slice(distances, func(i, j int) bool {
		if distances[i].dist == distances[j].dist {
			return distances[i].index < distances[j].index
		}
		return distances[i].dist < distances[j].dist
	})

	drop := int(math.Floor(trimmedMeanFraction * float64(len(embeddings))))
	keep := len(embeddings) - drop
	if keep < 1 {
		keep = 1
	}

	kept := make([][]float32, 0, keep)
	for _, s := range distances[:keep] {
		kept = append(kept, embeddings[s.index])
	}
	return meanOf(kept)
}

// centroidOf applies the configured strategy to a member embedding set.
func (e *Engine) centroidOf(embeddings [][]float32) []float32 {
	if e.cfg.CentroidStrategy == StrategyTrimmedMean {
		return trimmedMeanOf(embeddings)
	}
	return meanOf(embeddings)
}

// addToCentroid folds one embedding into a running mean:
// new = (old*n + e) / (n+1). A nil or empty centroid starts fresh.
func addToCentroid(old []float32, n int, embedding []float32) []float32 {
	if len(old) == 0 || n <= 0 {
		fresh := make([]float32, len(embedding))
		copy(fresh, embedding)
		return fresh
	}
	next := make([]float32, len(old))
	count := float64(n)
	for i := range old {
		next[i] = float32((float64(old[i])*count + float64(embedding[i])) / (count + 1))
	}
	return next
}

// recomputePerson rebuilds the centroid state of a person from its current
// identities, optionally excluding detections that are being moved away.
// The returned update carries a nil centroid when no members remain.
func (e *Engine) recomputePerson(ctx context.Context, personID string, exclude map[int64]struct{}) (database.PersonUpdate, error) {
	identities, err := e.identities.ListByPerson(ctx, personID)
	if err != nil {
		return database.PersonUpdate{}, fmt.Errorf("list identities of person %s: %w", personID, err)
	}

	var memberIDs []int64
	for _, identity := range identities {
		if _, skip := exclude[identity.DetectionID]; skip {
			continue
		}
		memberIDs = append(memberIDs, identity.DetectionID)
	}

	update := database.PersonUpdate{PersonID: personID, Count: len(memberIDs)}
	if len(memberIDs) == 0 {
		return update, nil
	}

	detections, err := e.detections.GetBatch(ctx, memberIDs)
	if err != nil {
		return database.PersonUpdate{}, fmt.Errorf("load member detections of person %s: %w", personID, err)
	}
	embeddings := make([][]float32, len(detections))
	for i := range detections {
		embeddings[i] = detections[i].Embedding
	}
	update.Centroid = e.centroidOf(embeddings)
	update.Count = len(detections)
	return update, nil
}
