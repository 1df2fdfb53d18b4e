package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/services"
	"github.com/driftlock/filestore/internal/storage"
)

type handlerEnv struct {
	store    *storage.MemoryStore
	objects  *backend.FakeStore
	ingestor *services.Ingestor
	router   *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := backend.NewRegistry("", backend.RemoteStorageConfig{
		ID:       "primary",
		Endpoint: "localhost:9000",
		Bucket:   "files",
	})
	require.NoError(t, err)
	staging, err := services.NewStaging(t.TempDir())
	require.NoError(t, err)

	env := &handlerEnv{
		store:   storage.NewMemoryStore(),
		objects: backend.NewFakeStore(),
	}
	log := zerolog.Nop()
	recCache := cache.New(64, time.Minute)
	factory := backend.FakeFactory(env.objects)
	env.ingestor = services.NewIngestor(env.store, recCache, registry, factory, staging, nil, nil, log)
	ledger := services.NewLedger(env.store, recCache, log)
	gc := services.NewCollector(env.store, registry, factory, recCache, nil, log)
	resolver := services.NewResolver(env.store, recCache, registry, factory, staging, log)

	h := New(env.ingestor, ledger, gc, resolver, log)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			c.Set("user_id", uid)
		}
	})
	r.POST("/upload", h.Upload)
	r.POST("/files/query", h.GetFiles)
	r.GET("/files/:id/info", h.GetFileInfo)
	r.GET("/files/:id/download", h.Download)
	r.DELETE("/files/:id", h.DeleteFile)
	r.POST("/files/usage", h.MarkUsage)
	r.POST("/files/expiry", h.SetExpiry)
	env.router = r
	return env
}

func (e *handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func uploadOne(t *testing.T, env *handlerEnv, name string, content []byte) *models.FileRecord {
	t.Helper()
	body, contentType := multipartUpload(t, name, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "u1")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []UploadResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.True(t, resp.Results[0].Success, resp.Results[0].Error)
	return resp.Results[0].File
}

func TestUploadReturnsPendingRecord(t *testing.T) {
	env := newHandlerEnv(t)

	rec := uploadOne(t, env, "notes.txt", []byte("hello"))
	assert.NotEmpty(t, rec.ID)
	assert.Nil(t, rec.UploadedAt, "response precedes the remote upload")
	assert.Equal(t, "u1", rec.OwnerID)

	env.ingestor.Wait()
	assert.True(t, env.objects.Has(rec.StorageKey))
}

func TestUploadRequiresUser(t *testing.T) {
	env := newHandlerEnv(t)
	body, contentType := multipartUpload(t, "x", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetFileInfo(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("info me"))
	env.ingestor.Wait()

	req := httptest.NewRequest(http.MethodGet, "/files/"+rec.ID+"/info", nil)
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.NotNil(t, got.UploadedAt)

	w = env.do(httptest.NewRequest(http.MethodGet, "/files/nope/info", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadRedirectsOnceUploaded(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("bytes"))
	env.ingestor.Wait()

	req := httptest.NewRequest(http.MethodGet, "/files/"+rec.ID+"/download", nil)
	w := env.do(req)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Contains(t, w.Header().Get("Location"), rec.StorageKey)
}

func TestUsageDiffEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("ref me"))
	env.ingestor.Wait()

	body, _ := json.Marshal(map[string]any{"file_ids": []string{rec.ID}})
	req := httptest.NewRequest(http.MethodPost, "/files/usage", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := env.store.Get(req.Context(), rec.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.UsedCount)

	// Detach by sending an empty list with the old one as previous.
	body, _ = json.Marshal(map[string]any{"previous_ids": []string{rec.ID}})
	req = httptest.NewRequest(http.MethodPost, "/files/usage", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err = env.store.Get(req.Context(), rec.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stored.UsedCount)
}

func TestExpiryEndpointValidatesTTL(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("expire me"))
	env.ingestor.Wait()

	body, _ := json.Marshal(map[string]any{"file_ids": []string{rec.ID}})
	req := httptest.NewRequest(http.MethodPost, "/files/expiry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ = json.Marshal(map[string]any{"file_ids": []string{rec.ID}, "ttl_seconds": 3600})
	req = httptest.NewRequest(http.MethodPost, "/files/expiry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.store.Get(req.Context(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ExpiredAt)
}

func TestDeleteFileOwnership(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("mine"))
	env.ingestor.Wait()

	req := httptest.NewRequest(http.MethodDelete, "/files/"+rec.ID, nil)
	req.Header.Set("X-User-ID", "someone-else")
	w := env.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/files/"+rec.ID, nil)
	req.Header.Set("X-User-ID", "u1")
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.objects.Has(rec.StorageKey))
}

func TestBatchQuerySkipsUnknownIDs(t *testing.T) {
	env := newHandlerEnv(t)
	rec := uploadOne(t, env, "a.txt", []byte("batch"))
	env.ingestor.Wait()

	body, _ := json.Marshal(map[string]any{"file_ids": []string{rec.ID, "ghost"}})
	req := httptest.NewRequest(http.MethodPost, "/files/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []*models.FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, rec.ID, resp.Files[0].ID)
}
