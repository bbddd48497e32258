package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// personColumns is the standard column list for person queries.
const personColumns = `id, display_name, confirmed, auto_assign_enabled, merged_into, centroid,
	       embedding_count, sample_detection_id, created_at, updated_at`

// PersonRepository provides PostgreSQL-backed person storage.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new PostgreSQL person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

// GetPerson retrieves a person by ID, returns nil if not found.
func (r *PersonRepository) GetPerson(ctx context.Context, id string) (*database.StoredPerson, error) {
	query := fmt.Sprintf("SELECT %s FROM persons WHERE id = $1", personColumns)

	p, err := scanPersonRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPersonByName retrieves an active person by display name, returns nil
// if not found. Names are normalized before comparison (lowercase, no
// diacritics, dashes to spaces, collapsed whitespace) so "jan-novak"
// matches "Jan Novák".
func (r *PersonRepository) GetPersonByName(ctx context.Context, name string) (*database.StoredPerson, error) {
	// Normalize input in Go; the SQL expression below applies the same
	// folding to the stored names, so both sides must stay in sync with
	// facematch.NormalizePersonName.
	normalizedInput := facematch.NormalizePersonName(name)

	query := fmt.Sprintf(`
		SELECT %s FROM persons
		WHERE btrim(regexp_replace(lower(replace(unaccent(display_name), '-', ' ')), '\s+', ' ', 'g')) = $1
		  AND merged_into IS NULL
		ORDER BY created_at
		LIMIT 1`, personColumns)

	p, err := scanPersonRow(r.pool.QueryRow(ctx, query, normalizedInput))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPersons returns all persons ordered by display name. Merged-away
// persons are excluded unless includeMerged is set.
func (r *PersonRepository) ListPersons(ctx context.Context, includeMerged bool) ([]database.StoredPerson, error) {
	query := fmt.Sprintf("SELECT %s FROM persons", personColumns)
	if !includeMerged {
		query += " WHERE merged_into IS NULL"
	}
	query += " ORDER BY LOWER(display_name), id"

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	return scanPersons(rows)
}

// ListMatchCandidates returns persons that can receive new identities:
// not merged away and with a centroid.
func (r *PersonRepository) ListMatchCandidates(ctx context.Context) ([]database.StoredPerson, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM persons
		WHERE merged_into IS NULL AND centroid IS NOT NULL
		ORDER BY id`, personColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query match candidates: %w", err)
	}
	defer rows.Close()

	return scanPersons(rows)
}

// CountPersons returns the number of active persons.
func (r *PersonRepository) CountPersons(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM persons WHERE merged_into IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

// CreatePerson stores a new person.
func (r *PersonRepository) CreatePerson(ctx context.Context, person *database.StoredPerson) error {
	query := `
		INSERT INTO persons (id, display_name, confirmed, auto_assign_enabled,
		                     centroid, embedding_count, sample_detection_id)
		VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		person.ID,
		person.DisplayName,
		person.Confirmed,
		person.AutoAssignEnabled,
		centroidArg(person.Centroid),
		person.EmbeddingCount,
		sampleDetectionArg(person.SampleDetectionID),
	)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// UpdatePersonName changes the display name of a person.
func (r *PersonRepository) UpdatePersonName(ctx context.Context, id, displayName string) error {
	_, err := r.pool.Exec(
		ctx, "UPDATE persons SET display_name = $1, updated_at = NOW() WHERE id = $2",
		displayName, id,
	)
	if err != nil {
		return fmt.Errorf("update person name: %w", err)
	}
	return nil
}

// UpdatePersonFlags changes the confirmed and auto-assign flags.
func (r *PersonRepository) UpdatePersonFlags(ctx context.Context, id string, confirmed, autoAssign bool) error {
	_, err := r.pool.Exec(
		ctx, "UPDATE persons SET confirmed = $1, auto_assign_enabled = $2, updated_at = NOW() WHERE id = $3",
		confirmed, autoAssign, id,
	)
	if err != nil {
		return fmt.Errorf("update person flags: %w", err)
	}
	return nil
}

// UpdateSampleDetection changes the avatar detection of a person.
func (r *PersonRepository) UpdateSampleDetection(ctx context.Context, id string, detectionID int64) error {
	_, err := r.pool.Exec(
		ctx, "UPDATE persons SET sample_detection_id = $1, updated_at = NOW() WHERE id = $2",
		sampleDetectionArg(detectionID), id,
	)
	if err != nil {
		return fmt.Errorf("update sample detection: %w", err)
	}
	return nil
}

// centroidArg converts a centroid slice to a SQL argument, NULL when empty.
func centroidArg(centroid []float32) any {
	if len(centroid) == 0 {
		return nil
	}
	return pgvector.NewVector(centroid)
}

// sampleDetectionArg converts a sample detection ID to a SQL argument, NULL when unset.
func sampleDetectionArg(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// scanPersonRow scans a single row into a StoredPerson.
func scanPersonRow(scanner interface{ Scan(...any) error }) (database.StoredPerson, error) {
	var p database.StoredPerson
	var mergedInto sql.NullString
	var centroidRaw []byte
	var sampleDetectionID sql.NullInt64

	err := scanner.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Confirmed,
		&p.AutoAssignEnabled,
		&mergedInto,
		&centroidRaw,
		&p.EmbeddingCount,
		&sampleDetectionID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan person: %w", err)
	}

	if mergedInto.Valid {
		p.MergedInto = mergedInto.String
	}
	if sampleDetectionID.Valid {
		p.SampleDetectionID = sampleDetectionID.Int64
	}
	if len(centroidRaw) > 0 {
		var vec pgvector.Vector
		if err := vec.Scan(centroidRaw); err != nil {
			return p, fmt.Errorf("scan centroid: %w", err)
		}
		p.Centroid = vec.Slice()
	}

	return p, nil
}

func scanPersons(rows *sql.Rows) ([]database.StoredPerson, error) {
	var persons []database.StoredPerson
	for rows.Next() {
		p, err := scanPersonRow(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// Verify interface compliance.
var _ database.PersonReader = (*PersonRepository)(nil)
var _ database.PersonWriter = (*PersonRepository)(nil)
