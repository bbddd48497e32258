package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/lib/pq"
)

// IdentityRepository provides PostgreSQL-backed storage for detection-person
// links. All write methods run in a single transaction so identity rows and
// person centroids never drift apart.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// GetIdentity retrieves the identity of a detection, returns nil if unassigned.
func (r *IdentityRepository) GetIdentity(ctx context.Context, detectionID int64) (*database.StoredIdentity, error) {
	query := `
		SELECT detection_id, person_id, similarity, auto_assigned, created_at
		FROM face_identities
		WHERE detection_id = $1
	`

	var id database.StoredIdentity
	err := r.pool.QueryRow(ctx, query, detectionID).Scan(
		&id.DetectionID,
		&id.PersonID,
		&id.Similarity,
		&id.AutoAssigned,
		&id.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &id, nil
}

// GetIdentities retrieves identities for multiple detections, keyed by
// detection ID. Unassigned detections are absent from the map.
func (r *IdentityRepository) GetIdentities(
	ctx context.Context, detectionIDs []int64,
) (map[int64]database.StoredIdentity, error) {
	result := make(map[int64]database.StoredIdentity, len(detectionIDs))
	if len(detectionIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT detection_id, person_id, similarity, auto_assigned, created_at
		FROM face_identities
		WHERE detection_id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(detectionIDs))
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id database.StoredIdentity
		if err := rows.Scan(&id.DetectionID, &id.PersonID, &id.Similarity, &id.AutoAssigned, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		result[id.DetectionID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return result, nil
}

// ListByPerson returns all identities of a person ordered by detection ID.
func (r *IdentityRepository) ListByPerson(
	ctx context.Context, personID string,
) ([]database.StoredIdentity, error) {
	query := `
		SELECT detection_id, person_id, similarity, auto_assigned, created_at
		FROM face_identities
		WHERE person_id = $1
		ORDER BY detection_id
	`

	rows, err := r.pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("query identities by person: %w", err)
	}
	defer rows.Close()

	var identities []database.StoredIdentity
	for rows.Next() {
		var id database.StoredIdentity
		if err := rows.Scan(&id.DetectionID, &id.PersonID, &id.Similarity, &id.AutoAssigned, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// CountIdentities returns the total number of identities.
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_identities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// upsertIdentity inserts or re-points an identity inside a transaction.
func upsertIdentity(ctx context.Context, tx *sql.Tx, identity database.StoredIdentity) error {
	query := `
		INSERT INTO face_identities (detection_id, person_id, similarity, auto_assigned)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (detection_id) DO UPDATE SET
			person_id = EXCLUDED.person_id,
			similarity = EXCLUDED.similarity,
			auto_assigned = EXCLUDED.auto_assigned,
			created_at = NOW()
	`

	if _, err := tx.ExecContext(ctx, query,
		identity.DetectionID, identity.PersonID, identity.Similarity, identity.AutoAssigned,
	); err != nil {
		return fmt.Errorf("upsert identity %d: %w", identity.DetectionID, err)
	}
	return nil
}

// applyPersonUpdates writes recomputed centroid state for persons inside a transaction.
func applyPersonUpdates(ctx context.Context, tx *sql.Tx, updates []database.PersonUpdate) error {
	query := `
		UPDATE persons SET
			centroid = $1::vector,
			embedding_count = $2,
			confirmed = (confirmed OR $3),
			updated_at = NOW()
		WHERE id = $4
	`

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, query, centroidArg(u.Centroid), u.Count, u.Confirm, u.PersonID); err != nil {
			return fmt.Errorf("update person %s: %w", u.PersonID, err)
		}
	}
	return nil
}

// ApplyAssignment upserts one identity and applies the person updates caused
// by it in the same transaction.
func (r *IdentityRepository) ApplyAssignment(
	ctx context.Context, identity database.StoredIdentity, updates []database.PersonUpdate,
) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if err := applyPersonUpdates(ctx, tx, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RemoveAssignment deletes the identity of a detection and applies the
// person updates caused by it in the same transaction.
func (r *IdentityRepository) RemoveAssignment(
	ctx context.Context, detectionID int64, updates []database.PersonUpdate,
) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_identities WHERE detection_id = $1", detectionID); err != nil {
		return fmt.Errorf("delete identity %d: %w", detectionID, err)
	}
	if err := applyPersonUpdates(ctx, tx, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ApplyAcceptance applies the full effect of accepting a proposal in a
// single transaction: the proposal flips to accepted, the person row is
// created or updated, every member receives an identity, and persons that
// lost members to re-pointing get their centroids refreshed.
// Returns database.ErrProposalDecided when the proposal is no longer pending.
func (r *IdentityRepository) ApplyAcceptance(ctx context.Context, app database.AcceptApplication) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Flip the proposal first. The status guard makes concurrent accepts
	// of the same proposal lose cleanly.
	res, err := tx.ExecContext(ctx,
		"UPDATE group_proposals SET status = $1, decided_at = $2 WHERE id = $3 AND status = $4",
		database.ProposalAccepted, app.DecidedAt, app.ProposalID, database.ProposalPending,
	)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("proposal rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrProposalDecided
	}

	if app.CreatePerson {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO persons (id, display_name, confirmed, auto_assign_enabled,
			                     centroid, embedding_count, sample_detection_id)
			VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
		`,
			app.Person.ID,
			app.Person.DisplayName,
			app.Person.Confirmed,
			app.Person.AutoAssignEnabled,
			centroidArg(app.Person.Centroid),
			app.Person.EmbeddingCount,
			sampleDetectionArg(app.Person.SampleDetectionID),
		); err != nil {
			return fmt.Errorf("insert person: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE persons SET
				centroid = $1::vector,
				embedding_count = $2,
				confirmed = TRUE,
				sample_detection_id = COALESCE(sample_detection_id, $3),
				updated_at = NOW()
			WHERE id = $4
		`,
			centroidArg(app.Person.Centroid),
			app.Person.EmbeddingCount,
			sampleDetectionArg(app.Person.SampleDetectionID),
			app.Person.ID,
		); err != nil {
			return fmt.Errorf("update person: %w", err)
		}
	}

	for _, identity := range app.Identities {
		if err := upsertIdentity(ctx, tx, identity); err != nil {
			return err
		}
	}

	if err := applyPersonUpdates(ctx, tx, app.OtherUpdates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ApplyMerge applies the full effect of a person merge in a single
// transaction: identities move to the target, the source is marked merged
// and emptied, the target centroid is replaced.
func (r *IdentityRepository) ApplyMerge(ctx context.Context, merge database.MergeApplication) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE face_identities SET person_id = $1 WHERE person_id = $2",
		merge.TargetID, merge.SourceID,
	); err != nil {
		return fmt.Errorf("move identities: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE persons SET
			merged_into = $1,
			centroid = NULL,
			embedding_count = 0,
			updated_at = NOW()
		WHERE id = $2
	`, merge.TargetID, merge.SourceID); err != nil {
		return fmt.Errorf("mark source merged: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE persons SET
			centroid = $1::vector,
			embedding_count = $2,
			updated_at = NOW()
		WHERE id = $3
	`, centroidArg(merge.TargetCentroid), merge.TargetCount, merge.TargetID); err != nil {
		return fmt.Errorf("update target centroid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ database.IdentityReader = (*IdentityRepository)(nil)
var _ database.IdentityWriter = (*IdentityRepository)(nil)
