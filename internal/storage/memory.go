package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/driftlock/filestore/internal/models"
)

// MemoryStore implements FileStore on a map. Used in tests and as a
// fallback when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.FileRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.FileRecord)}
}

func (m *MemoryStore) Save(_ context.Context, rec *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if existing, ok := m.records[cp.ID]; ok {
		// Full replace keeps the original creation time and the fields the
		// saver does not own, mirroring the Postgres upsert.
		cp.CreatedAt = existing.CreatedAt
		cp.UsedCount = existing.UsedCount
		cp.UploadedAt = existing.UploadedAt
		cp.UploadedTo = existing.UploadedTo
		cp.ExpiredAt = existing.ExpiredAt
		cp.OwnerID = existing.OwnerID
	}
	m.records[cp.ID] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) GetMany(_ context.Context, ids []string) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.FileRecord
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		// One record per id regardless of input repeats, matching the
		// set semantics of the Postgres id = ANY($1) lookup.
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := m.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByContentHash(_ context.Context, hash string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var canonical *models.FileRecord
	for _, rec := range m.records {
		if rec.ContentHash != hash {
			continue
		}
		if canonical == nil || rec.CreatedAt.Before(canonical.CreatedAt) {
			canonical = rec
		}
	}
	if canonical == nil {
		return nil, ErrNotFound
	}
	return canonical.Clone(), nil
}

func (m *MemoryStore) FinalizeUpload(_ context.Context, id string, uploadedAt time.Time, uploadedTo, mimeType string, hasCompression bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	t := uploadedAt
	rec.UploadedAt = &t
	rec.UploadedTo = uploadedTo
	rec.MimeType = mimeType
	rec.HasCompression = hasCompression
	return nil
}

func (m *MemoryStore) SetSensitiveMarks(_ context.Context, id string, marks models.StringList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.SensitiveMarks = append(models.StringList(nil), marks...)
	return nil
}

func (m *MemoryStore) AdjustUsage(_ context.Context, id string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.UsedCount += delta
	return nil
}

func (m *MemoryStore) SetExpiry(_ context.Context, id string, expiredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if expiredAt == nil {
		rec.ExpiredAt = nil
	} else {
		t := *expiredAt
		rec.ExpiredAt = &t
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) ExpiredCandidates(_ context.Context, now time.Time, limit int) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.FileRecord
	for _, rec := range m.records {
		if rec.ExpiredAt != nil && !rec.ExpiredAt.After(now) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiredAt.Before(*out[j].ExpiredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UnusedCandidates(_ context.Context, createdBefore time.Time, limit int) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.FileRecord
	for _, rec := range m.records {
		if rec.UsedCount == 0 && rec.ExpiredAt == nil && rec.CreatedAt.Before(createdBefore) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountLiveSharers(_ context.Context, storageKey string, excludeIDs []string, now time.Time) (int, error) {
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, rec := range m.records {
		if rec.StorageKey != storageKey {
			continue
		}
		if _, skip := excluded[rec.ID]; skip {
			continue
		}
		if rec.UsedCount > 0 || rec.ExpiredAt == nil || rec.ExpiredAt.After(now) {
			count++
		}
	}
	return count, nil
}
