package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/lib/pq"
)

// proposalColumns is the standard column list for proposal queries.
const proposalColumns = `id, status, score_min, score_max, score_mean,
	       suggested_label, suggested_person_id, created_at, decided_at`

// ProposalRepository provides PostgreSQL-backed group proposal storage.
type ProposalRepository struct {
	pool *Pool
}

// NewProposalRepository creates a new PostgreSQL proposal repository.
func NewProposalRepository(pool *Pool) *ProposalRepository {
	return &ProposalRepository{pool: pool}
}

// GetProposal retrieves a proposal with members, returns nil if not found.
func (r *ProposalRepository) GetProposal(ctx context.Context, id string) (*database.StoredProposal, error) {
	query := fmt.Sprintf("SELECT %s FROM group_proposals WHERE id = $1", proposalColumns)

	p, err := scanProposalRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	members, err := r.loadMembers(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Members = members[p.ID]
	return &p, nil
}

// ListProposals returns proposals filtered by status (empty status means
// all), newest first, with members attached.
func (r *ProposalRepository) ListProposals(
	ctx context.Context, status string, limit, offset int,
) ([]database.StoredProposal, error) {
	query := fmt.Sprintf("SELECT %s FROM group_proposals", proposalColumns)
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []database.StoredProposal
	var ids []string
	for rows.Next() {
		p, err := scanProposalRow(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}

	members, err := r.loadMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range proposals {
		proposals[i].Members = members[proposals[i].ID]
	}
	return proposals, nil
}

// CountProposals returns the number of proposals per status.
func (r *ProposalRepository) CountProposals(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, "SELECT status, COUNT(*) FROM group_proposals GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count proposals: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan proposal count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal counts: %w", err)
	}
	return counts, nil
}

// GetBlockedMemberKeys returns the member-set keys of all pending and
// rejected proposals. Rebuild uses them to skip duplicate groups.
func (r *ProposalRepository) GetBlockedMemberKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT member_key FROM group_proposals WHERE status = $1 OR status = $2",
		database.ProposalPending, database.ProposalRejected,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocked member keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan member key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member keys: %w", err)
	}
	return keys, nil
}

// GetPendingMemberIDs returns the detection IDs held by pending proposals.
func (r *ProposalRepository) GetPendingMemberIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT pm.detection_id
		FROM proposal_members pm
		JOIN group_proposals gp ON gp.id = pm.proposal_id
		WHERE gp.status = $1`,
		database.ProposalPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending member IDs: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending member ID: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending member IDs: %w", err)
	}
	return ids, nil
}

// InsertProposals stores a batch of pending proposals with their members in
// a single transaction.
func (r *ProposalRepository) InsertProposals(ctx context.Context, proposals []database.StoredProposal) error {
	if len(proposals) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	proposalStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_proposals (id, status, member_key, score_min, score_max, score_mean,
		                             suggested_label, suggested_person_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare proposal statement: %w", err)
	}
	defer proposalStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO proposal_members (proposal_id, detection_id, similarity)
		VALUES ($1, $2, $3)
	`)
	if err != nil {
		return fmt.Errorf("prepare member statement: %w", err)
	}
	defer memberStmt.Close()

	for i := range proposals {
		p := &proposals[i]

		var label, personID sql.NullString
		if p.SuggestedLabel != "" {
			label = sql.NullString{String: p.SuggestedLabel, Valid: true}
		}
		if p.SuggestedPersonID != "" {
			personID = sql.NullString{String: p.SuggestedPersonID, Valid: true}
		}

		if _, err := proposalStmt.ExecContext(ctx,
			p.ID, p.Status, p.MemberKey(), p.ScoreMin, p.ScoreMax, p.ScoreMean, label, personID,
		); err != nil {
			return fmt.Errorf("insert proposal %s: %w", p.ID, err)
		}

		for _, m := range p.Members {
			if _, err := memberStmt.ExecContext(ctx, p.ID, m.DetectionID, m.Similarity); err != nil {
				return fmt.Errorf("insert proposal member %s/%d: %w", p.ID, m.DetectionID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// MarkRejected flips a pending proposal to rejected. Returns
// database.ErrProposalDecided when the proposal is no longer pending.
func (r *ProposalRepository) MarkRejected(ctx context.Context, id string, decidedAt time.Time) error {
	res, err := r.pool.Exec(ctx,
		"UPDATE group_proposals SET status = $1, decided_at = $2 WHERE id = $3 AND status = $4",
		database.ProposalRejected, decidedAt, id, database.ProposalPending,
	)
	if err != nil {
		return fmt.Errorf("mark proposal rejected: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("proposal rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrProposalDecided
	}
	return nil
}

// loadMembers fetches members for the given proposals in one query,
// grouped by proposal ID and ordered by detection ID.
func (r *ProposalRepository) loadMembers(
	ctx context.Context, proposalIDs []string,
) (map[string][]database.ProposalMember, error) {
	result := make(map[string][]database.ProposalMember, len(proposalIDs))
	if len(proposalIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT proposal_id, detection_id, similarity
		FROM proposal_members
		WHERE proposal_id = ANY($1)
		ORDER BY proposal_id, detection_id
	`, pq.Array(proposalIDs))
	if err != nil {
		return nil, fmt.Errorf("query proposal members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var proposalID string
		var m database.ProposalMember
		if err := rows.Scan(&proposalID, &m.DetectionID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan proposal member: %w", err)
		}
		result[proposalID] = append(result[proposalID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal members: %w", err)
	}
	return result, nil
}

// scanProposalRow scans a single row into a StoredProposal (without members).
func scanProposalRow(scanner interface{ Scan(...any) error }) (database.StoredProposal, error) {
	var p database.StoredProposal
	var label, personID sql.NullString
	var decidedAt sql.NullTime

	err := scanner.Scan(
		&p.ID,
		&p.Status,
		&p.ScoreMin,
		&p.ScoreMax,
		&p.ScoreMean,
		&label,
		&personID,
		&p.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan proposal: %w", err)
	}

	if label.Valid {
		p.SuggestedLabel = label.String
	}
	if personID.Valid {
		p.SuggestedPersonID = personID.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		p.DecidedAt = &t
	}

	return p, nil
}

// Verify interface compliance.
var _ database.ProposalReader = (*ProposalRepository)(nil)
var _ database.ProposalWriter = (*ProposalRepository)(nil)
