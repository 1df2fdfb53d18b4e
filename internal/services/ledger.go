package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/storage"
)

// Ledger owns usage-counter and expiry-window adjustments. Callers never
// increment or decrement by hand; attachment changes always go through
// the diff primitives.
type Ledger struct {
	store storage.FileStore
	cache *cache.RecordCache
	log   zerolog.Logger
}

// NewLedger wires the reference ledger.
func NewLedger(store storage.FileStore, c *cache.RecordCache, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, cache: c, log: log}
}

// DiffResult is the outcome of one diff call: the fully resolved current
// set plus the two deltas, so callers can react without a second query.
type DiffResult struct {
	Current []*models.FileRecord
	Added   []*models.FileRecord
	Removed []*models.FileRecord
}

// AdjustUsage applies one atomic counter update and invalidates the
// cached record.
func (l *Ledger) AdjustUsage(ctx context.Context, fileID string, delta int64) error {
	if err := l.store.AdjustUsage(ctx, fileID, delta); err != nil {
		return fmt.Errorf("adjusting usage of %s: %w", fileID, err)
	}
	l.cache.Invalidate(fileID)
	return nil
}

// DiffAndMark resolves newFileIDs, diffs them against previous and
// applies +1 to every added record, -1 to every removed one. A removed
// record that no longer exists (already collected) is skipped.
func (l *Ledger) DiffAndMark(ctx context.Context, newFileIDs []string, previous []*models.FileRecord) (*DiffResult, error) {
	res, err := l.diff(ctx, newFileIDs, previous)
	if err != nil {
		return nil, err
	}
	for _, rec := range res.Added {
		if err := l.AdjustUsage(ctx, rec.ID, 1); err != nil {
			return nil, err
		}
	}
	for _, rec := range res.Removed {
		if err := l.AdjustUsage(ctx, rec.ID, -1); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
	}
	return res, nil
}

// DiffAndSetExpiry has the same diff shape as DiffAndMark but adjusts the
// expiry axis instead: newly added records expire after d, removed ones
// get their expiry cleared. Usage and expiry are independent axes.
func (l *Ledger) DiffAndSetExpiry(ctx context.Context, newFileIDs []string, d time.Duration, previous []*models.FileRecord) (*DiffResult, error) {
	res, err := l.diff(ctx, newFileIDs, previous)
	if err != nil {
		return nil, err
	}
	expireAt := time.Now().UTC().Add(d)
	for _, rec := range res.Added {
		if err := l.store.SetExpiry(ctx, rec.ID, &expireAt); err != nil {
			return nil, fmt.Errorf("setting expiry of %s: %w", rec.ID, err)
		}
		l.cache.Invalidate(rec.ID)
	}
	for _, rec := range res.Removed {
		if err := l.store.SetExpiry(ctx, rec.ID, nil); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("clearing expiry of %s: %w", rec.ID, err)
		}
		l.cache.Invalidate(rec.ID)
	}
	return res, nil
}

func (l *Ledger) diff(ctx context.Context, newFileIDs []string, previous []*models.FileRecord) (*DiffResult, error) {
	current, err := l.store.GetMany(ctx, newFileIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving attachment list: %w", err)
	}

	prevByID := make(map[string]*models.FileRecord, len(previous))
	for _, rec := range previous {
		prevByID[rec.ID] = rec
	}
	newSet := make(map[string]struct{}, len(newFileIDs))
	for _, id := range newFileIDs {
		newSet[id] = struct{}{}
	}

	res := &DiffResult{Current: current}
	for _, rec := range current {
		if _, was := prevByID[rec.ID]; !was {
			res.Added = append(res.Added, rec)
		}
	}
	for _, rec := range previous {
		if _, still := newSet[rec.ID]; !still {
			res.Removed = append(res.Removed, rec)
		}
	}
	return res, nil
}
