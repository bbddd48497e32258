package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// safeIntToInt32 converts int to int32 with clamping to prevent overflow.
func safeIntToInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// detectionColumns is the standard column list for detection queries.
const detectionColumns = `id, photo_uid, face_index, embedding, bbox, det_score, model, dim, created_at,
	       marker_uid, file_uid, photo_width, photo_height, orientation`

// eligibleWhere is the quality gate shared by all candidate listings.
// Args: $1 min det score, $2 min face width px, $3 min face width relative
// to photo width. Postgres arrays are 1-based, bbox[3] - bbox[1] is the
// face width.
const eligibleWhere = `
	d.det_score >= $1
	AND (d.bbox[3] - d.bbox[1]) >= $2
	AND (COALESCE(d.photo_width, 0) = 0 OR (d.bbox[3] - d.bbox[1]) >= $3 * d.photo_width)`

// eligibleUnassignedWhere additionally requires that no identity exists.
const eligibleUnassignedWhere = `
	fi.detection_id IS NULL
	AND` + eligibleWhere

// DetectionRepository provides PostgreSQL-backed detection storage with an
// optional in-memory HNSW index for similarity search.
type DetectionRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewDetectionRepository creates a new PostgreSQL detection repository.
func NewDetectionRepository(pool *Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

// Get retrieves a detection by ID, returns nil if not found.
func (r *DetectionRepository) Get(ctx context.Context, id int64) (*database.StoredDetection, error) {
	query := fmt.Sprintf("SELECT %s FROM detections WHERE id = $1", detectionColumns)

	det, err := scanDetectionRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &det, nil
}

// GetBatch retrieves multiple detections by ID, ordered by ID.
// Missing IDs are silently skipped.
func (r *DetectionRepository) GetBatch(ctx context.Context, ids []int64) ([]database.StoredDetection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM detections WHERE id = ANY($1) ORDER BY id", detectionColumns)
	rows, err := r.pool.Query(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query detections batch: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// GetByPhoto retrieves all detections for a photo.
func (r *DetectionRepository) GetByPhoto(ctx context.Context, photoUID string) ([]database.StoredDetection, error) {
	query := fmt.Sprintf("SELECT %s FROM detections WHERE photo_uid = $1 ORDER BY face_index", detectionColumns)

	rows, err := r.pool.Query(ctx, query, photoUID)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// ListUnassigned returns eligible detections without an identity, ordered
// by ID. A limit of 0 means no limit.
func (r *DetectionRepository) ListUnassigned(ctx context.Context, limit int) ([]database.StoredDetection, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM detections d
		LEFT JOIN face_identities fi ON fi.detection_id = d.id
		WHERE %s
		ORDER BY d.id`,
		qualifyColumns("d", detectionColumns), eligibleUnassignedWhere)

	args := []any{database.MinDetScore, float64(database.MinFaceWidthPx), database.MinFaceWidthRel}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unassigned detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// ListEligible returns all eligible detections regardless of identity,
// ordered by ID. A limit of 0 means no limit.
func (r *DetectionRepository) ListEligible(ctx context.Context, limit int) ([]database.StoredDetection, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM detections d
		WHERE %s
		ORDER BY d.id`,
		qualifyColumns("d", detectionColumns), eligibleWhere)

	args := []any{database.MinDetScore, float64(database.MinFaceWidthPx), database.MinFaceWidthRel}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// IsIngested checks if face extraction has been run for a photo.
func (r *DetectionRepository) IsIngested(ctx context.Context, photoUID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(
		ctx, "SELECT EXISTS(SELECT 1 FROM detections_processed WHERE photo_uid = $1)", photoUID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check detections processed: %w", err)
	}
	return exists, nil
}

// Count returns the total number of detections stored.
func (r *DetectionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detections").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return count, nil
}

// CountUnassigned returns the number of eligible detections without an identity.
func (r *DetectionRepository) CountUnassigned(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM detections d
		LEFT JOIN face_identities fi ON fi.detection_id = d.id
		WHERE %s`, eligibleUnassignedWhere)

	var count int
	err := r.pool.QueryRow(
		ctx, query, database.MinDetScore, float64(database.MinFaceWidthPx), database.MinFaceWidthRel,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unassigned detections: %w", err)
	}
	return count, nil
}

// CountPhotos returns the number of distinct photos with detections.
func (r *DetectionRepository) CountPhotos(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(DISTINCT photo_uid) FROM detections").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

// CountIngested returns the number of photos processed for face extraction.
func (r *DetectionRepository) CountIngested(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detections_processed").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ingested: %w", err)
	}
	return count, nil
}

// GetUniquePhotoUIDs returns all unique photo UIDs that have detections.
func (r *DetectionRepository) GetUniquePhotoUIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT DISTINCT photo_uid FROM detections ORDER BY photo_uid")
	if err != nil {
		return nil, fmt.Errorf("query unique photo UIDs: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan photo UID: %w", err)
		}
		uids = append(uids, uid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo UIDs: %w", err)
	}

	return uids, nil
}

// FindSimilar finds detections with similar embeddings using cosine distance.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *DetectionRepository) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]database.StoredDetection, error) {
	if r.IsHNSWEnabled() {
		return r.findSimilarHNSW(embedding, limit)
	}

	// Fallback to PostgreSQL with ef_search optimization.
	return r.findSimilarPostgres(ctx, embedding, limit)
}

// findSimilarHNSW uses the in-memory HNSW index for similarity search.
func (r *DetectionRepository) findSimilarHNSW(embedding []float32, limit int) ([]database.StoredDetection, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, errors.New("HNSW index not initialized")
	}

	ids, _, err := r.hnswIndex.Search(embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("HNSW search: %w", err)
	}

	results := make([]database.StoredDetection, 0, len(ids))
	for _, id := range ids {
		det := r.hnswIndex.GetDetection(id)
		if det != nil {
			results = append(results, *det)
		}
	}

	return results, nil
}

// findSimilarPostgres uses PostgreSQL for similarity search with ef_search optimization.
func (r *DetectionRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int,
) ([]database.StoredDetection, error) {
	// Use transaction to set ef_search for better recall (matching GOB HNSW config).
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Set ef_search to match GOB HNSW configuration.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM detections
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, detectionColumns)

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// FindSimilarWithDistance finds similar detections and returns distances.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *DetectionRepository) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredDetection, []float64, error) {
	if r.IsHNSWEnabled() {
		return r.findSimilarWithDistanceHNSW(embedding, limit, maxDistance)
	}

	// Fallback to PostgreSQL with ef_search optimization.
	return r.findSimilarWithDistancePostgres(ctx, embedding, limit, maxDistance)
}

// findSimilarWithDistanceHNSW uses the in-memory HNSW index for similarity search.
func (r *DetectionRepository) findSimilarWithDistanceHNSW(
	embedding []float32, limit int, maxDistance float64,
) ([]database.StoredDetection, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	// Request more candidates to ensure we have enough after distance filtering.
	searchK := limit * database.HNSWSearchMultiplier
	searchK = max(searchK, 100) // Minimum search size for better recall

	ids, distances, err := r.hnswIndex.Search(embedding, searchK)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	// Filter by distance and collect results.
	results := make([]database.StoredDetection, 0, limit)
	distancesOut := make([]float64, 0, limit)

	for i, id := range ids {
		if distances[i] >= maxDistance {
			continue
		}
		det := r.hnswIndex.GetDetection(id)
		if det == nil {
			continue
		}
		results = append(results, *det)
		distancesOut = append(distancesOut, distances[i])
		if len(results) >= limit {
			break
		}
	}

	return results, distancesOut, nil
}

// findSimilarWithDistancePostgres uses PostgreSQL for similarity search with ef_search optimization.
func (r *DetectionRepository) findSimilarWithDistancePostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredDetection, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       embedding <=> $1::vector AS distance
		FROM detections
		WHERE embedding <=> $1::vector < $2
		ORDER BY distance
		LIMIT $3`, detectionColumns)

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar detections: %w", err)
	}
	defer rows.Close()

	var detections []database.StoredDetection
	var distances []float64

	for rows.Next() {
		det, dist, err := scanDetectionWithDistance(rows)
		if err != nil {
			return nil, nil, err
		}
		detections = append(detections, det)
		distances = append(distances, dist)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate detections: %w", err)
	}

	return detections, distances, nil
}

// detectionNullableFields holds nullable SQL parameters extracted from a StoredDetection.
type detectionNullableFields struct {
	markerUID   sql.NullString
	fileUID     sql.NullString
	photoWidth  sql.NullInt32
	photoHeight sql.NullInt32
	orientation sql.NullInt32
}

// extractNullableFields converts optional detection fields to SQL nullable types.
func extractNullableFields(det *database.StoredDetection) detectionNullableFields {
	var f detectionNullableFields
	if det.MarkerUID != "" {
		f.markerUID = sql.NullString{String: det.MarkerUID, Valid: true}
	}
	if det.FileUID != "" {
		f.fileUID = sql.NullString{String: det.FileUID, Valid: true}
	}
	if det.PhotoWidth > 0 {
		f.photoWidth = sql.NullInt32{Int32: safeIntToInt32(det.PhotoWidth), Valid: true}
	}
	if det.PhotoHeight > 0 {
		f.photoHeight = sql.NullInt32{Int32: safeIntToInt32(det.PhotoHeight), Valid: true}
	}
	if det.Orientation > 0 {
		f.orientation = sql.NullInt32{Int32: safeIntToInt32(det.Orientation), Valid: true}
	}
	return f
}

// SaveDetections stores multiple detections for a photo, replacing any
// existing detections for that photo.
func (r *DetectionRepository) SaveDetections(
	ctx context.Context, photoUID string, detections []database.StoredDetection,
) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	hnswEnabled := r.IsHNSWEnabled()

	var oldIDs []int64
	if hnswEnabled {
		oldIDs, err = scanDetectionIDs(tx, ctx, photoUID)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM detections WHERE photo_uid = $1", photoUID); err != nil {
		return fmt.Errorf("delete existing detections: %w", err)
	}

	if len(detections) == 0 {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		r.updateHNSWDetections(hnswEnabled, oldIDs, nil)
		return nil
	}

	inserted, err := insertDetectionsReturningIDs(ctx, tx, photoUID, detections)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.updateHNSWDetections(hnswEnabled, oldIDs, inserted)
	return nil
}

// insertDetectionsReturningIDs inserts detections and returns them with assigned IDs.
func insertDetectionsReturningIDs(
	ctx context.Context, tx *sql.Tx, photoUID string, detections []database.StoredDetection,
) ([]database.StoredDetection, error) {
	inserted := make([]database.StoredDetection, 0, len(detections))

	for i := range detections {
		det := &detections[i]
		vec := pgvector.NewVector(det.Embedding)
		bbox := pq.Array(det.BBox)
		nf := extractNullableFields(det)

		var newID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO detections (photo_uid, face_index, embedding, bbox, det_score, model, dim,
			                        marker_uid, file_uid, photo_width, photo_height, orientation)
			VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`,
			photoUID,
			det.FaceIndex,
			vec,
			bbox,
			det.DetScore,
			det.Model,
			det.Dim,
			nf.markerUID,
			nf.fileUID,
			nf.photoWidth,
			nf.photoHeight,
			nf.orientation,
		).Scan(&newID)
		if err != nil {
			return nil, fmt.Errorf("insert detection %d: %w", det.FaceIndex, err)
		}

		newDet := *det
		newDet.ID = newID
		newDet.PhotoUID = photoUID
		inserted = append(inserted, newDet)
	}

	return inserted, nil
}

// updateHNSWDetections removes old detection IDs and adds new detections to the HNSW index.
func (r *DetectionRepository) updateHNSWDetections(
	hnswEnabled bool, oldIDs []int64, newDetections []database.StoredDetection,
) {
	if !hnswEnabled {
		return
	}
	r.hnswMu.Lock()
	for _, id := range oldIDs {
		r.hnswIndex.Delete(id)
	}
	for i := range newDetections {
		r.hnswIndex.Add(&newDetections[i])
	}
	r.hnswMu.Unlock()
}

// MarkIngested marks a photo as having been processed for face extraction.
func (r *DetectionRepository) MarkIngested(ctx context.Context, photoUID string, faceCount int) error {
	query := `
		INSERT INTO detections_processed (photo_uid, face_count)
		VALUES ($1, $2)
		ON CONFLICT (photo_uid) DO UPDATE SET
			face_count = EXCLUDED.face_count,
			created_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, photoUID, faceCount); err != nil {
		return fmt.Errorf("mark ingested: %w", err)
	}
	return nil
}

// UpdateMarker updates the cached marker data for a specific detection.
func (r *DetectionRepository) UpdateMarker(
	ctx context.Context, photoUID string, faceIndex int, markerUID string,
) error {
	var mUID sql.NullString
	if markerUID != "" {
		mUID = sql.NullString{String: markerUID, Valid: true}
	}

	if _, err := r.pool.Exec(
		ctx, "UPDATE detections SET marker_uid = $1 WHERE photo_uid = $2 AND face_index = $3",
		mUID, photoUID, faceIndex,
	); err != nil {
		return fmt.Errorf("update detection marker: %w", err)
	}
	return nil
}

// UpdatePhotoInfo updates the cached photo dimensions and file info for all
// detections of a photo.
func (r *DetectionRepository) UpdatePhotoInfo(
	ctx context.Context, photoUID string,
	width, height, orientation int, fileUID string,
) error {
	query := `
		UPDATE detections SET
			photo_width = $1,
			photo_height = $2,
			orientation = $3,
			file_uid = $4
		WHERE photo_uid = $5
	`

	if _, err := r.pool.Exec(ctx, query, width, height, orientation, fileUID, photoUID); err != nil {
		return fmt.Errorf("update detection photo info: %w", err)
	}
	return nil
}

// DeleteByPhoto removes all detections and ingest records for a photo.
// Returns the deleted detection IDs for HNSW cleanup.
func (r *DetectionRepository) DeleteByPhoto(ctx context.Context, photoUID string) ([]int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Get detection IDs before deleting (for HNSW cleanup).
	ids, err := scanDetectionIDs(tx, ctx, photoUID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM detections WHERE photo_uid = $1", photoUID); err != nil {
		return nil, fmt.Errorf("delete detections: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM detections_processed WHERE photo_uid = $1", photoUID); err != nil {
		return nil, fmt.Errorf("delete detections_processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	// Remove from HNSW index.
	if r.IsHNSWEnabled() {
		r.hnswMu.Lock()
		for _, id := range ids {
			r.hnswIndex.Delete(id)
		}
		r.hnswMu.Unlock()
	}

	return ids, nil
}

// scanDetectionIDs reads detection IDs for a photo and properly closes the rows.
func scanDetectionIDs(tx *sql.Tx, ctx context.Context, photoUID string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM detections WHERE photo_uid = $1", photoUID)
	if err != nil {
		return nil, fmt.Errorf("query detection IDs: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan detection ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection IDs: %w", err)
	}
	return ids, nil
}

// scanDetectionRow scans a single row into a StoredDetection, with optional
// extra scan destinations appended after the standard columns.
func scanDetectionRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredDetection, error) {
	var det database.StoredDetection
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var model, markerUID, fileUID sql.NullString
	var photoWidth, photoHeight, orientation sql.NullInt32

	dest := make([]any, 0, 14+len(extraDest))
	dest = append(dest,
		&det.ID,
		&det.PhotoUID,
		&det.FaceIndex,
		&vec,
		&bbox,
		&det.DetScore,
		&model,
		&det.Dim,
		&det.CreatedAt,
		&markerUID,
		&fileUID,
		&photoWidth,
		&photoHeight,
		&orientation,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return det, err
		}
		return det, fmt.Errorf("scan detection: %w", err)
	}

	det.Embedding = vec.Slice()
	det.BBox = []float64(bbox)
	if model.Valid {
		det.Model = model.String
	}
	if markerUID.Valid {
		det.MarkerUID = markerUID.String
	}
	if fileUID.Valid {
		det.FileUID = fileUID.String
	}
	if photoWidth.Valid {
		det.PhotoWidth = int(photoWidth.Int32)
	}
	if photoHeight.Valid {
		det.PhotoHeight = int(photoHeight.Int32)
	}
	if orientation.Valid {
		det.Orientation = int(orientation.Int32)
	}

	return det, nil
}

func scanDetections(rows *sql.Rows) ([]database.StoredDetection, error) {
	var detections []database.StoredDetection
	for rows.Next() {
		det, err := scanDetectionRow(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return detections, nil
}

func scanDetectionWithDistance(rows *sql.Rows) (database.StoredDetection, float64, error) {
	var dist float64
	det, err := scanDetectionRow(rows, &dist)
	return det, dist, err
}

// qualifyColumns prefixes every column in a comma separated list with a
// table alias for joined queries.
func qualifyColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// GetAllDetections retrieves all detections from the database.
func (r *DetectionRepository) GetAllDetections(ctx context.Context) ([]database.StoredDetection, error) {
	query := fmt.Sprintf("SELECT %s FROM detections ORDER BY id", detectionColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// tryLoadDetectionIndex attempts to load the detection HNSW index from disk.
// Returns true if the index was loaded successfully.
func (r *DetectionRepository) tryLoadDetectionIndex(
	ctx context.Context, indexPath string, dbCount, dbMaxID int64,
) bool {
	metadata, metaErr := database.LoadHNSWMetadata(indexPath)
	if metaErr != nil {
		fmt.Printf("Detection index: metadata file error: %v (will rebuild)\n", metaErr)
		return false
	}
	if metadata.DetectionCount != dbCount || metadata.MaxDetectionID != dbMaxID {
		fmt.Printf("Detection index: stale (db: count=%d max_id=%d, cached: count=%d max_id=%d) (will rebuild)\n",
			dbCount, dbMaxID, metadata.DetectionCount, metadata.MaxDetectionID)
		return false
	}

	r.hnswIndex = database.NewHNSWIndex()
	if err := r.hnswIndex.LoadWithDetectionMetadata(indexPath); err != nil {
		fmt.Printf("Detection index: failed to load with metadata: %v (will rebuild)\n", err)
		return false
	}
	if r.hnswIndex.IsEmpty() {
		fmt.Printf("Detection index: loaded graph is empty (will rebuild)\n")
		return false
	}
	fmt.Printf("Detection index: loaded from disk (fresh)\n")
	return true
}

// EnableHNSW loads or builds an in-memory HNSW index for O(log N) similarity search.
// If indexPath is provided, it will try to load from disk first and save after building.
// This should be called once at startup.
func (r *DetectionRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	var dbCount, dbMaxID int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM detections").Scan(&dbCount, &dbMaxID)
	if err != nil {
		return fmt.Errorf("failed to get detection stats: %w", err)
	}

	if indexPath != "" && r.tryLoadDetectionIndex(ctx, indexPath, dbCount, dbMaxID) {
		r.hnswEnabled = true
		return nil
	}

	detections, err := r.GetAllDetections(ctx)
	if err != nil {
		return fmt.Errorf("failed to load detections: %w", err)
	}

	r.hnswIndex = database.NewHNSWIndex()
	if err := r.hnswIndex.BuildFromDetections(detections); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}

	if indexPath != "" && len(detections) > 0 {
		metadata := database.HNSWIndexMetadata{DetectionCount: dbCount, MaxDetectionID: dbMaxID}
		if err := r.hnswIndex.SaveWithDetectionMetadata(indexPath, metadata); err != nil {
			fmt.Printf("Warning: failed to save HNSW index to disk: %v\n", err)
		}
	}

	r.hnswEnabled = true
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *DetectionRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *DetectionRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of detections in the HNSW index.
func (r *DetectionRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *DetectionRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *DetectionRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" {
		return nil // No path configured, nothing to save
	}

	if r.hnswIndex == nil {
		return nil // No index to save
	}

	// Get current database stats for metadata.
	ctx := context.Background()
	var count, maxID int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM detections").Scan(&count, &maxID)
	if err != nil {
		return fmt.Errorf("failed to get detection stats: %w", err)
	}

	metadata := database.HNSWIndexMetadata{
		DetectionCount: count,
		MaxDetectionID: maxID,
	}

	if err := r.hnswIndex.SaveWithDetectionMetadata(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW detection index: %w", err)
	}

	fmt.Printf("Detection index save: saved successfully (count=%d, max_id=%d)\n", count, maxID)
	return nil
}

// Verify interface compliance.
var _ database.DetectionReader = (*DetectionRepository)(nil)
var _ database.DetectionWriter = (*DetectionRepository)(nil)
var _ database.HNSWRebuilder = (*DetectionRepository)(nil)
