package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/hasher"
	"github.com/driftlock/filestore/internal/media"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/storage"
)

const defaultUploadTimeout = 2 * time.Minute

// IngestRequest carries one complete upload into the pipeline. The
// transport guarantees the stream is delivered exactly once per file id.
type IngestRequest struct {
	FileID      string // generated when empty
	OwnerID     string
	Name        string
	Description string
	ContentType string // declared, may be empty
	BackendID   string // empty means the default backend
	UserMeta    models.JSONMap
	Stream      io.Reader
}

// Ingestor turns uploaded streams into persisted file records. The
// foreground path stages, hashes, dedups and persists; derivative
// generation and the remote upload run in a background unit per file.
type Ingestor struct {
	store     storage.FileStore
	cache     *cache.RecordCache
	registry  *backend.Registry
	newClient backend.ClientFactory
	staging   *Staging
	events    *EventBus
	scanner   *Scanner
	log       zerolog.Logger

	uploadTimeout time.Duration
	wg            sync.WaitGroup
}

// NewIngestor wires the pipeline. events and scanner may be nil.
func NewIngestor(store storage.FileStore, c *cache.RecordCache, registry *backend.Registry,
	factory backend.ClientFactory, staging *Staging, events *EventBus, scanner *Scanner,
	log zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:         store,
		cache:         c,
		registry:      registry,
		newClient:     factory,
		staging:       staging,
		events:        events,
		scanner:       scanner,
		log:           log,
		uploadTimeout: defaultUploadTimeout,
	}
}

// Ingest persists a record for the stream and returns it promptly; the
// remote upload continues in the background. The returned record's id is
// usable immediately even though UploadedAt is still nil.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*models.FileRecord, error) {
	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.New().String()
	}

	// The requested backend must exist before any work is done.
	backendID := req.BackendID
	if backendID == "" {
		backendID = i.registry.DefaultID()
	}
	if _, err := i.registry.Get(backendID); err != nil {
		return nil, err
	}

	stagedPath, size, err := i.staging.Write(fileID, req.Stream)
	if err != nil {
		return nil, err
	}

	contentType := resolveContentType(req.ContentType, req.Name)

	digest, err := i.hashStaged(stagedPath, size)
	if err != nil {
		i.staging.Remove(fileID)
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.FileRecord{
		ID:          fileID,
		Name:        req.Name,
		Description: req.Description,
		MimeType:    contentType,
		ContentHash: digest,
		Size:        size,
		UserMeta:    req.UserMeta.Clone(),
		OwnerID:     req.OwnerID,
		CreatedAt:   now,
	}

	canonical, err := i.store.FindByContentHash(ctx, digest)
	switch {
	case err == nil:
		// Dedup fast path: reuse the canonical storage key and copy its
		// extracted metadata verbatim. Whatever state the canonical is in
		// right now is what we copy; no further processing.
		rec.StorageKey = canonical.StorageKey
		rec.FileMeta = canonical.FileMeta.Clone()
		rec.HasCompression = canonical.HasCompression
		rec.SensitiveMarks = append(models.StringList(nil), canonical.SensitiveMarks...)
		rec.UploadedAt = canonical.UploadedAt
		rec.UploadedTo = canonical.UploadedTo
		if err := i.store.Save(ctx, rec); err != nil {
			i.staging.Remove(fileID)
			return nil, fmt.Errorf("saving deduplicated record: %w", err)
		}
		i.staging.Remove(fileID)
		i.log.Info().Str("file_id", fileID).Str("storage_key", rec.StorageKey).Msg("dedup hit")
		i.events.Publish(SubjectFileIngested, rec)
		return rec, nil

	case errors.Is(err, storage.ErrNotFound):
		// Novel content; this record becomes canonical for its hash.
		rec.StorageKey = fileID

	default:
		i.staging.Remove(fileID)
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	// Cheap synchronous extraction. Corrupt or unsupported media leaves
	// fileMeta partial or empty, never fails the ingest.
	if media.IsImage(contentType) {
		if meta, err := media.AnalyzeImage(stagedPath); err != nil {
			i.log.Warn().Err(err).Str("file_id", fileID).Msg("image analysis failed")
		} else {
			rec.FileMeta = meta
		}
	} else if media.IsAudioVideo(contentType) {
		if meta, err := media.ProbeAV(ctx, stagedPath); err != nil {
			i.log.Warn().Err(err).Str("file_id", fileID).Msg("media probe failed")
		} else {
			rec.FileMeta = meta
		}
	}

	if err := i.store.Save(ctx, rec); err != nil {
		i.staging.Remove(fileID)
		return nil, fmt.Errorf("saving record: %w", err)
	}
	i.events.Publish(SubjectFileIngested, rec)

	i.wg.Add(1)
	go i.background(rec.Clone(), stagedPath, backendID, contentType)

	return rec, nil
}

// Wait blocks until all background units have finished. Used on shutdown
// and in tests.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// background is the fire-and-forget unit for one file: derivatives,
// upload, finalize, scan, cleanup. Every failure is logged and swallowed;
// the record stays valid and local-only if the upload never succeeds.
func (i *Ingestor) background(rec *models.FileRecord, stagedPath, backendID, contentType string) {
	defer i.wg.Done()
	log := i.log.With().Str("file_id", rec.ID).Str("backend", backendID).Logger()

	var derivatives *media.Derivatives
	defer func() {
		derivatives.Cleanup()
		i.staging.Remove(rec.ID)
	}()

	cfg, err := i.registry.Get(backendID)
	if err != nil {
		log.Error().Err(err).Msg("backend lookup failed, record stays local")
		return
	}
	client, err := i.newClient(cfg)
	if err != nil {
		log.Error().Err(err).Msg("backend client failed, record stays local")
		return
	}

	uploadPath := stagedPath
	uploadMime := contentType
	hasCompression := false

	if media.IsImage(contentType) {
		derivatives, err = media.BuildImageDerivatives(stagedPath)
		if err != nil {
			log.Warn().Err(err).Msg("derivative generation incomplete")
		}
		if derivatives != nil {
			uploadPath = derivatives.PrimaryPath
			uploadMime = derivatives.MimeType
			hasCompression = derivatives.CompressedPath != ""
		}
	}

	if err := i.uploadArtifact(client, rec.StorageKey, uploadPath, uploadMime); err != nil {
		log.Error().Err(err).Msg("upload failed, record stays local")
		return
	}
	if hasCompression {
		key := rec.StorageKey + models.CompressedSuffix
		if err := i.uploadArtifact(client, key, derivatives.CompressedPath, uploadMime); err != nil {
			log.Error().Err(err).Msg("compressed variant upload failed")
			hasCompression = false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.uploadTimeout)
	defer cancel()
	if err := i.store.FinalizeUpload(ctx, rec.ID, time.Now().UTC(), backendID, uploadMime, hasCompression); err != nil {
		log.Error().Err(err).Msg("finalize failed")
		return
	}
	i.cache.Invalidate(rec.ID)
	i.events.Publish(SubjectFileUploaded, map[string]any{
		"file_id":     rec.ID,
		"storage_key": rec.StorageKey,
		"backend":     backendID,
	})
	log.Info().Str("storage_key", rec.StorageKey).Msg("upload finished")

	if i.scanner != nil {
		i.scanStaged(ctx, rec, stagedPath)
	}
}

func (i *Ingestor) scanStaged(ctx context.Context, rec *models.FileRecord, stagedPath string) {
	marks, err := i.scanner.Scan(stagedPath)
	if err != nil {
		i.log.Warn().Err(err).Str("file_id", rec.ID).Msg("scan failed")
		return
	}
	if len(marks) == 0 {
		return
	}
	merged := append(models.StringList(nil), rec.SensitiveMarks...)
	for _, m := range marks {
		if !merged.Contains(m) {
			merged = append(merged, m)
		}
	}
	if err := i.store.SetSensitiveMarks(ctx, rec.ID, merged); err != nil {
		i.log.Error().Err(err).Str("file_id", rec.ID).Msg("recording sensitive marks failed")
		return
	}
	i.cache.Invalidate(rec.ID)
}

func (i *Ingestor) uploadArtifact(client backend.ObjectStore, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating artifact: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.uploadTimeout)
	defer cancel()
	if err := client.Upload(ctx, key, f, info.Size(), contentType); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (i *Ingestor) hashStaged(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening staged file: %w", err)
	}
	defer f.Close()
	return hasher.Hash(f, size)
}

// resolveContentType prefers the declared type, falls back to the name's
// extension and finally to application/octet-stream.
func resolveContentType(declared, name string) string {
	if declared != "" {
		return declared
	}
	if ext := filepath.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return "application/octet-stream"
}
