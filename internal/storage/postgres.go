package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/models"
)

// PostgresStore implements FileStore on PostgreSQL via database/sql.
type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgresStore connects, verifies the connection and creates the
// schema if needed.
func NewPostgresStore(ctx context.Context, connectionString string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db, log: log}
	if err := s.createTables(ctx); err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Info().Msg("connected to postgres")
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS file_records (
        id TEXT PRIMARY KEY,
        storage_key TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
        content_hash TEXT NOT NULL,
        size BIGINT NOT NULL DEFAULT 0,
        file_meta JSONB,
        user_meta JSONB,
        sensitive_marks JSONB,
        has_compression BOOLEAN NOT NULL DEFAULT false,
        uploaded_at TIMESTAMPTZ,
        uploaded_to TEXT NOT NULL DEFAULT '',
        used_count BIGINT NOT NULL DEFAULT 0,
        expired_at TIMESTAMPTZ,
        owner_id TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE INDEX IF NOT EXISTS idx_file_records_content_hash ON file_records(content_hash);
    CREATE INDEX IF NOT EXISTS idx_file_records_storage_key ON file_records(storage_key);
    CREATE INDEX IF NOT EXISTS idx_file_records_expired_at ON file_records(expired_at) WHERE expired_at IS NOT NULL;
    CREATE INDEX IF NOT EXISTS idx_file_records_used_count ON file_records(used_count) WHERE used_count = 0;
    `
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, storage_key, name, description, mime_type, content_hash, size,
    file_meta, user_meta, sensitive_marks, has_compression,
    uploaded_at, uploaded_to, used_count, expired_at, owner_id, created_at`

func (s *PostgresStore) Save(ctx context.Context, rec *models.FileRecord) error {
	query := `
    INSERT INTO file_records (` + recordColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
    ON CONFLICT (id) DO UPDATE SET
        storage_key = EXCLUDED.storage_key,
        name = EXCLUDED.name,
        description = EXCLUDED.description,
        mime_type = EXCLUDED.mime_type,
        content_hash = EXCLUDED.content_hash,
        size = EXCLUDED.size,
        file_meta = EXCLUDED.file_meta,
        user_meta = EXCLUDED.user_meta,
        sensitive_marks = EXCLUDED.sensitive_marks,
        has_compression = EXCLUDED.has_compression
    `
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.StorageKey,
		rec.Name,
		rec.Description,
		rec.MimeType,
		rec.ContentHash,
		rec.Size,
		rec.FileMeta,
		rec.UserMeta,
		rec.SensitiveMarks,
		rec.HasCompression,
		nullTime(rec.UploadedAt),
		rec.UploadedTo,
		rec.UsedCount,
		nullTime(rec.ExpiredAt),
		rec.OwnerID,
		created,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PostgresStore) GetMany(ctx context.Context, ids []string) ([]*models.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) FindByContentHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE content_hash = $1 ORDER BY created_at ASC LIMIT 1`,
		hash)
	return scanRecord(row)
}

func (s *PostgresStore) FinalizeUpload(ctx context.Context, id string, uploadedAt time.Time, uploadedTo, mimeType string, hasCompression bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE file_records
        SET uploaded_at = $1, uploaded_to = $2, mime_type = $3, has_compression = $4
        WHERE id = $5`,
		uploadedAt, uploadedTo, mimeType, hasCompression, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetSensitiveMarks(ctx context.Context, id string, marks models.StringList) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_records SET sensitive_marks = $1 WHERE id = $2`, marks, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) AdjustUsage(ctx context.Context, id string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_records SET used_count = used_count + $1 WHERE id = $2`, delta, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetExpiry(ctx context.Context, id string, expiredAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_records SET expired_at = $1 WHERE id = $2`, nullTime(expiredAt), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+recordColumns+` FROM file_records
        WHERE expired_at IS NOT NULL AND expired_at <= $1
        ORDER BY expired_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) UnusedCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+recordColumns+` FROM file_records
        WHERE used_count = 0 AND expired_at IS NULL AND created_at < $1
        ORDER BY created_at ASC LIMIT $2`,
		createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PostgresStore) CountLiveSharers(ctx context.Context, storageKey string, excludeIDs []string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM file_records
        WHERE storage_key = $1
          AND NOT (id = ANY($2))
          AND (used_count > 0 OR expired_at IS NULL OR expired_at > $3)`,
		storageKey, pq.Array(excludeIDs), now).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.FileRecord, error) {
	var rec models.FileRecord
	var uploadedAt, expiredAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.StorageKey,
		&rec.Name,
		&rec.Description,
		&rec.MimeType,
		&rec.ContentHash,
		&rec.Size,
		&rec.FileMeta,
		&rec.UserMeta,
		&rec.SensitiveMarks,
		&rec.HasCompression,
		&uploadedAt,
		&rec.UploadedTo,
		&rec.UsedCount,
		&expiredAt,
		&rec.OwnerID,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if uploadedAt.Valid {
		rec.UploadedAt = &uploadedAt.Time
	}
	if expiredAt.Valid {
		rec.ExpiredAt = &expiredAt.Time
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.FileRecord, error) {
	defer rows.Close()
	var out []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
