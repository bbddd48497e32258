package mariadb

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpdateMarkerEmbedding replaces the embedding of a PhotoPrism face marker
// with the detector's InsightFace embedding. PhotoPrism stores marker
// embeddings as a JSON list-of-lists ([[e1, ..., e512]]) in a mediumblob.
func (p *Pool) UpdateMarkerEmbedding(ctx context.Context, markerUID string, embedding []float32) error {
	wrapped := [][]float32{embedding}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	// Verify the marker exists first; MySQL reports zero affected rows
	// both for missing markers and for unchanged data.
	var exists bool
	err = p.db.QueryRowContext(ctx, `SELECT 1 FROM markers WHERE marker_uid = ? AND marker_type = 'face'`, markerUID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("marker %s not found", markerUID)
	}

	query := `UPDATE markers SET embeddings_json = ? WHERE marker_uid = ? AND marker_type = 'face'`
	if _, err := p.db.ExecContext(ctx, query, data, markerUID); err != nil {
		return fmt.Errorf("update marker embedding: %w", err)
	}

	return nil
}

// UpdateSubjectCentroid writes a person centroid into the PhotoPrism face
// clusters linked to a subject. Cluster embeddings are a single JSON list
// ([e1, ..., e512]). Returns the number of clusters updated; a subject
// without clusters is not an error, PhotoPrism creates them lazily.
func (p *Pool) UpdateSubjectCentroid(ctx context.Context, subjUID string, centroid []float32) (int, error) {
	data, err := json.Marshal(centroid)
	if err != nil {
		return 0, fmt.Errorf("marshal centroid: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT id FROM faces WHERE subj_uid = ?`, subjUID)
	if err != nil {
		return 0, fmt.Errorf("query face clusters of subject %s: %w", subjUID, err)
	}
	defer rows.Close()

	var clusterIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan cluster id: %w", err)
		}
		clusterIDs = append(clusterIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate clusters: %w", err)
	}

	updated := 0
	for _, id := range clusterIDs {
		if _, err := p.db.ExecContext(ctx, `UPDATE faces SET embedding_json = ? WHERE id = ?`, data, id); err != nil {
			return updated, fmt.Errorf("update cluster %s: %w", id, err)
		}
		updated++
	}
	return updated, nil
}
