package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/media"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/storage"
)

const signedURLTTL = time.Hour

// Resolution is how a file's bytes should be served: either a local path
// (still staging) or a URL to redirect to.
type Resolution struct {
	LocalPath string
	URL       string
}

// Resolver turns a file id into an access location. It never touches the
// ingestion path.
type Resolver struct {
	store     storage.FileStore
	cache     *cache.RecordCache
	registry  *backend.Registry
	newClient backend.ClientFactory
	staging   *Staging
	log       zerolog.Logger
}

// NewResolver wires the read resolver.
func NewResolver(store storage.FileStore, c *cache.RecordCache, registry *backend.Registry,
	factory backend.ClientFactory, staging *Staging, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		cache:     c,
		registry:  registry,
		newClient: factory,
		staging:   staging,
		log:       log,
	}
}

// Record returns the file record, served from the cache when fresh.
func (r *Resolver) Record(ctx context.Context, fileID string) (*models.FileRecord, error) {
	if rec, ok := r.cache.Get(fileID); ok {
		return rec, nil
	}
	rec, err := r.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(rec)
	return rec, nil
}

// Records resolves a batch of ids. Ids with no record are skipped, not
// errors.
func (r *Resolver) Records(ctx context.Context, fileIDs []string) ([]*models.FileRecord, error) {
	return r.store.GetMany(ctx, fileIDs)
}

// Resolve applies the fixed fallback chain: local staging while the
// upload is pending, then image proxy, access proxy, signed URL and
// finally the backend's public endpoint. The chain is policy, not a
// per-request choice.
func (r *Resolver) Resolve(ctx context.Context, fileID string) (*Resolution, error) {
	rec, err := r.Record(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if !rec.Uploaded() {
		path := r.staging.Path(rec.ID)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("file %s not uploaded and no staged copy: %w", fileID, err)
		}
		return &Resolution{LocalPath: path}, nil
	}

	cfg, err := r.registry.Get(rec.UploadedTo)
	if err != nil {
		return nil, err
	}

	if cfg.ImageProxyURL != "" && media.IsImage(rec.MimeType) {
		return &Resolution{URL: joinURL(cfg.ImageProxyURL, rec.StorageKey)}, nil
	}
	if cfg.AccessProxyURL != "" {
		return &Resolution{URL: joinURL(cfg.AccessProxyURL, rec.StorageKey)}, nil
	}
	if cfg.UseSignedURL {
		client, err := r.newClient(cfg)
		if err != nil {
			return nil, err
		}
		url, err := client.PresignedGetURL(ctx, rec.StorageKey, signedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("signing url for %s: %w", fileID, err)
		}
		return &Resolution{URL: url}, nil
	}
	if cfg.PublicBaseURL != "" {
		return &Resolution{URL: joinURL(cfg.PublicBaseURL, rec.StorageKey)}, nil
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &Resolution{URL: fmt.Sprintf("%s://%s/%s/%s", scheme, cfg.Endpoint, cfg.Bucket, rec.StorageKey)}, nil
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
