// Package storage persists FileRecords. The FileStore interface is backed
// by Postgres in production and by an in-memory map in tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/driftlock/filestore/internal/models"
)

// ErrNotFound is returned when an operation targets a record that does not
// exist (or no longer exists).
var ErrNotFound = errors.New("file record not found")

// FileStore is the persistence contract for file records.
type FileStore interface {
	// Save inserts or fully replaces a record.
	Save(ctx context.Context, rec *models.FileRecord) error
	Get(ctx context.Context, id string) (*models.FileRecord, error)

	// GetMany resolves ids as a set: repeats yield one record, unknown ids
	// are skipped.
	GetMany(ctx context.Context, ids []string) ([]*models.FileRecord, error)

	// FindByContentHash returns the canonical (oldest) record with the
	// given hash, or ErrNotFound. Used for the dedup fast path.
	FindByContentHash(ctx context.Context, hash string) (*models.FileRecord, error)

	// FinalizeUpload is the idempotent partial update issued by the
	// background ingest unit. It only touches upload-related columns so a
	// concurrent usage adjustment is never clobbered.
	FinalizeUpload(ctx context.Context, id string, uploadedAt time.Time, uploadedTo, mimeType string, hasCompression bool) error

	// SetSensitiveMarks replaces the content-classification tags.
	SetSensitiveMarks(ctx context.Context, id string, marks models.StringList) error

	// AdjustUsage applies used_count = used_count + delta as one atomic
	// update, never read-modify-write.
	AdjustUsage(ctx context.Context, id string, delta int64) error

	// SetExpiry sets or clears (nil) the expiry timestamp.
	SetExpiry(ctx context.Context, id string, expiredAt *time.Time) error

	Delete(ctx context.Context, id string) error

	// ExpiredCandidates returns records whose expiry is set and in the
	// past, oldest first, up to limit.
	ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*models.FileRecord, error)

	// UnusedCandidates returns records with zero usage, no expiry and a
	// created_at older than createdBefore, up to limit.
	UnusedCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]*models.FileRecord, error)

	// CountLiveSharers counts records sharing storageKey, excluding the
	// given ids, that still pin the underlying bytes: positive usage, or
	// an absent or future expiry.
	CountLiveSharers(ctx context.Context, storageKey string, excludeIDs []string, now time.Time) (int, error)
}
