package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/storage"
)

const (
	defaultGraceWindow = time.Hour
	defaultBatchSize   = 100
	deleteTimeout      = 30 * time.Second
)

// Collector reclaims storage in two independently scheduled sweeps. Each
// sweep excludes concurrent runs of itself but may overlap the other
// sweep and ongoing ingestion; the liveness re-check immediately before
// each deletion is the safety net for that.
type Collector struct {
	store     storage.FileStore
	registry  *backend.Registry
	newClient backend.ClientFactory
	cache     *cache.RecordCache
	events    *EventBus
	log       zerolog.Logger

	// GraceWindow keeps freshly created, never-referenced records out of
	// the unused sweep while their ingestion may still be in flight.
	GraceWindow time.Duration
	BatchSize   int

	expirationMu sync.Mutex
	unusedMu     sync.Mutex
}

// NewCollector wires the garbage collector. events may be nil.
func NewCollector(store storage.FileStore, registry *backend.Registry, factory backend.ClientFactory,
	c *cache.RecordCache, events *EventBus, log zerolog.Logger) *Collector {
	return &Collector{
		store:       store,
		registry:    registry,
		newClient:   factory,
		cache:       c,
		events:      events,
		log:         log,
		GraceWindow: defaultGraceWindow,
		BatchSize:   defaultBatchSize,
	}
}

// RunExpirationSweep deletes records whose expiry is in the past,
// regardless of their usage counter.
func (g *Collector) RunExpirationSweep(ctx context.Context) error {
	return g.sweep(ctx, "expiration", &g.expirationMu, func(now time.Time) ([]*models.FileRecord, error) {
		return g.store.ExpiredCandidates(ctx, now, g.BatchSize)
	})
}

// RunUnusedSweep deletes records with zero usage, no expiry override and
// a creation time past the grace window.
func (g *Collector) RunUnusedSweep(ctx context.Context) error {
	return g.sweep(ctx, "unused", &g.unusedMu, func(now time.Time) ([]*models.FileRecord, error) {
		return g.store.UnusedCandidates(ctx, now.Add(-g.GraceWindow), g.BatchSize)
	})
}

func (g *Collector) sweep(ctx context.Context, name string, mu *sync.Mutex,
	selectBatch func(now time.Time) ([]*models.FileRecord, error)) error {
	if !mu.TryLock() {
		g.log.Info().Str("sweep", name).Msg("sweep already running, skipping")
		return nil
	}
	defer mu.Unlock()

	log := g.log.With().Str("sweep", name).Logger()
	totalRows, totalObjects := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			// Cancellable between batches; an in-flight batch runs out.
			break
		}
		now := time.Now().UTC()
		batch, err := selectBatch(now)
		if err != nil {
			return fmt.Errorf("%s sweep: selecting candidates: %w", name, err)
		}
		if len(batch) == 0 {
			break
		}

		rows, objects := g.processBatch(ctx, log, name, batch, now)
		totalRows += rows
		totalObjects += objects
		if rows == 0 {
			// Every remaining candidate failed its deletion; retry on the
			// next scheduled sweep instead of spinning.
			break
		}
	}

	if totalRows > 0 {
		log.Info().Int("rows", totalRows).Int("objects", totalObjects).Msg("sweep finished")
		g.events.Publish(SubjectGCSwept, map[string]any{
			"sweep":   name,
			"rows":    totalRows,
			"objects": totalObjects,
		})
	}
	return nil
}

// processBatch deletes eligible candidates. The storage-key liveness
// check runs immediately before each deletion, never delete-then-check.
func (g *Collector) processBatch(ctx context.Context, log zerolog.Logger, name string,
	batch []*models.FileRecord, now time.Time) (rows, objects int) {
	for _, candidate := range batch {
		// Re-fetch: a reference attached since selection disqualifies the
		// record itself.
		rec, err := g.store.Get(ctx, candidate.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("file_id", candidate.ID).Msg("re-fetching candidate")
			continue
		}
		if !g.eligible(name, rec, now) {
			continue
		}

		// Exclude only this candidate. A sibling selected into the same
		// batch but disqualified by its own re-fetch (a reference attached
		// since selection) must stay visible here and pin the bytes; rows
		// already deleted earlier in the batch drop out on their own. A
		// still-eligible unused sibling counts as live too (absent expiry),
		// so a shared key collects on the last sharer's turn.
		live, err := g.store.CountLiveSharers(ctx, rec.StorageKey, []string{rec.ID}, now)
		if err != nil {
			log.Error().Err(err).Str("storage_key", rec.StorageKey).Msg("liveness check failed")
			continue
		}

		if live == 0 {
			deleted, err := g.deleteObjects(ctx, rec)
			if err != nil {
				// Backend bytes survive; keep the row so the next sweep
				// retries. Other groups still proceed.
				log.Error().Err(err).Str("file_id", rec.ID).Str("storage_key", rec.StorageKey).
					Msg("backend deletion failed, keeping row")
				continue
			}
			objects += deleted
		}

		if err := g.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Str("file_id", rec.ID).Msg("deleting row")
			continue
		}
		g.cache.Invalidate(rec.ID)
		rows++
	}
	return rows, objects
}

// eligible re-applies the sweep's selection predicate to a fresh record.
func (g *Collector) eligible(sweep string, rec *models.FileRecord, now time.Time) bool {
	switch sweep {
	case "expiration":
		return rec.ExpiredAt != nil && !rec.ExpiredAt.After(now)
	default:
		return rec.UsedCount == 0 && rec.ExpiredAt == nil && rec.CreatedAt.Before(now.Add(-g.GraceWindow))
	}
}

// deleteObjects removes the record's backend bytes: primary object plus
// the compressed variant when present. Records that never uploaded have
// nothing remote to delete; their staging file is the ingestion path's
// concern, not ours.
func (g *Collector) deleteObjects(ctx context.Context, rec *models.FileRecord) (int, error) {
	if rec.UploadedTo == "" {
		return 0, nil
	}
	cfg, err := g.registry.Get(rec.UploadedTo)
	if err != nil {
		return 0, err
	}
	client, err := g.newClient(cfg)
	if err != nil {
		return 0, err
	}

	delCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	deleted := 0
	if err := client.Delete(delCtx, rec.StorageKey); err != nil {
		return deleted, fmt.Errorf("deleting object %s: %w", rec.StorageKey, err)
	}
	deleted++
	if rec.HasCompression {
		key := rec.StorageKey + models.CompressedSuffix
		if err := client.Delete(delCtx, key); err != nil {
			return deleted, fmt.Errorf("deleting object %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// DeleteRecord is the explicit administrative deletion: it bypasses the
// usage counter but still honors the storage-key sharing check.
func (g *Collector) DeleteRecord(ctx context.Context, fileID string) error {
	rec, err := g.store.Get(ctx, fileID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	live, err := g.store.CountLiveSharers(ctx, rec.StorageKey, []string{rec.ID}, now)
	if err != nil {
		return fmt.Errorf("liveness check: %w", err)
	}
	if live == 0 {
		if _, err := g.deleteObjects(ctx, rec); err != nil {
			return err
		}
	}
	if err := g.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	g.cache.Invalidate(rec.ID)
	g.events.Publish(SubjectFileDeleted, map[string]any{
		"file_id":     rec.ID,
		"storage_key": rec.StorageKey,
	})
	return nil
}
