package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/storage"
)

func TestResolveLocalWhileUploadPending(t *testing.T) {
	env := newTestEnv(t)
	env.objects.UploadErr = assert.AnError // keep the record local-only
	ctx := context.Background()

	rec, err := env.ingestor.Ingest(ctx, IngestRequest{
		OwnerID: "u", Name: "x.txt", Stream: bytes.NewReader([]byte("local bytes")),
	})
	require.NoError(t, err)
	env.ingestor.Wait()

	// The failed background unit cleaned staging, so restore a staged
	// copy the way an in-flight upload would still have one.
	_, _, err = env.staging.Write(rec.ID, bytes.NewReader([]byte("local bytes")))
	require.NoError(t, err)

	res, err := env.resolver.Resolve(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, res.URL)
	assert.Equal(t, env.staging.Path(rec.ID), res.LocalPath)
}

func resolveUploaded(t *testing.T, cfg backend.RemoteStorageConfig, mimeType string) *Resolution {
	t.Helper()
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	rec := seedUploaded(t, env, "f1", "f1", time.Hour)
	require.NoError(t, env.store.FinalizeUpload(ctx, rec.ID, time.Now().UTC(), cfg.ID, mimeType, false))

	res, err := env.resolver.Resolve(ctx, rec.ID)
	require.NoError(t, err)
	return res
}

func TestResolveFallbackChain(t *testing.T) {
	base := backend.RemoteStorageConfig{
		ID:       "primary",
		Endpoint: "s3.example:9000",
		Bucket:   "files",
	}

	t.Run("image proxy wins for images", func(t *testing.T) {
		cfg := base
		cfg.ImageProxyURL = "https://imgproxy.example"
		cfg.AccessProxyURL = "https://proxy.example"
		cfg.UseSignedURL = true
		res := resolveUploaded(t, cfg, "image/png")
		assert.Equal(t, "https://imgproxy.example/f1", res.URL)
	})

	t.Run("image proxy skipped for non-images", func(t *testing.T) {
		cfg := base
		cfg.ImageProxyURL = "https://imgproxy.example"
		cfg.AccessProxyURL = "https://proxy.example/"
		res := resolveUploaded(t, cfg, "application/pdf")
		assert.Equal(t, "https://proxy.example/f1", res.URL)
	})

	t.Run("signed url", func(t *testing.T) {
		cfg := base
		cfg.UseSignedURL = true
		res := resolveUploaded(t, cfg, "application/pdf")
		assert.Contains(t, res.URL, "signed.example/f1")
	})

	t.Run("public base url", func(t *testing.T) {
		cfg := base
		cfg.PublicBaseURL = "https://cdn.example/files"
		res := resolveUploaded(t, cfg, "application/pdf")
		assert.Equal(t, "https://cdn.example/files/f1", res.URL)
	})

	t.Run("bare endpoint fallback", func(t *testing.T) {
		res := resolveUploaded(t, base, "application/pdf")
		assert.Equal(t, "http://s3.example:9000/files/f1", res.URL)
	})
}

func TestResolveUnknownFile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.resolver.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordUsesCacheUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedUploaded(t, env, "f1", "f1", time.Hour)

	first, err := env.resolver.Record(ctx, "f1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, first.UsedCount)

	// The ledger invalidates on mutation, so the next read is fresh.
	require.NoError(t, env.ledger.AdjustUsage(ctx, "f1", 1))
	fresh, err := env.resolver.Record(ctx, "f1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fresh.UsedCount)
}
