package recordings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// ErrNotFound is returned when a recording does not exist (or vanished
// mid-job, which callers must tolerate).
var ErrNotFound = errors.New("recording not found")

const recordingColumns = `id, stream_name, environment,
	COALESCE(local_mp4_path,''), COALESCE(s3_mp4_path,''),
	COALESCE(local_hls_path,''), COALESCE(s3_hls_path,''),
	file_size, duration, recording_metadata, created_at, updated_at`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*models.Recording, error) {
	var rec models.Recording
	var meta []byte
	err := row.Scan(
		&rec.ID, &rec.StreamName, &rec.Environment,
		&rec.LocalMP4Path, &rec.S3MP4Path,
		&rec.LocalHLSPath, &rec.S3HLSPath,
		&rec.FileSize, &rec.Duration, &meta, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for recording %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// Create inserts a new recording (registered by a client or the ingest collaborator).
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const q = `INSERT INTO recordings
		(stream_name, environment, local_mp4_path, s3_mp4_path, file_size, duration, recording_metadata)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		rec.StreamName, rec.Environment, rec.LocalMP4Path, rec.S3MP4Path,
		rec.FileSize, rec.Duration, meta,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID returns a recording by ID, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List returns recordings ordered most recent first, optionally filtered by
// stream name.
func (r *Repository) List(ctx context.Context, skip, limit int, streamName string) ([]models.Recording, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := `SELECT ` + recordingColumns + ` FROM recordings`
	args := []any{}
	if streamName != "" {
		q += ` WHERE stream_name = $1`
		args = append(args, streamName)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, skip, limit)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Delete removes a recording row. Returns false when it did not exist.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MergeTranscodeState merges patch into recording_metadata without clobbering
// unrelated keys, and sets the environment-appropriate HLS path column when
// hlsOutput is non-empty. The read-modify-write runs in one transaction with
// the row locked, so concurrent reconcile calls for the same recording
// serialize at the row level.
func (r *Repository) MergeTranscodeState(ctx context.Context, id int64, patch map[string]interface{}, hlsOutput string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var environment string
	var meta []byte
	err = tx.QueryRow(ctx,
		`SELECT environment, recording_metadata FROM recordings WHERE id = $1 FOR UPDATE`, id,
	).Scan(&environment, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock recording %d: %w", id, err)
	}

	merged := map[string]interface{}{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &merged); err != nil {
			return fmt.Errorf("decode metadata for recording %d: %w", id, err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if hlsOutput != "" {
		col := "local_hls_path"
		if environment == models.EnvironmentAWS {
			col = "s3_hls_path"
		}
		q := fmt.Sprintf(`UPDATE recordings SET recording_metadata = $1, %s = $2, updated_at = NOW() WHERE id = $3`, col)
		if _, err := tx.Exec(ctx, q, out, hlsOutput, id); err != nil {
			return fmt.Errorf("update recording %d: %w", id, err)
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE recordings SET recording_metadata = $1, updated_at = NOW() WHERE id = $2`, out, id); err != nil {
			return fmt.Errorf("update recording %d: %w", id, err)
		}
	}

	return tx.Commit(ctx)
}
