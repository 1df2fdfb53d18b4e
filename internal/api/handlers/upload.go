package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/services"
)

const maxFileSize = 200 << 20 // 200 MB

// UploadResult is the per-file result object returned to the client.
type UploadResult struct {
	Success bool               `json:"success"`
	File    *models.FileRecord `json:"file,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Upload accepts one or more multipart files. Each file gets its own
// record; the response carries records whose upload is still in flight,
// so uploaded_at is typically null here.
func (h *Handlers) Upload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		// fallback: maybe a single file
		if f, ferr := c.FormFile("file"); ferr == nil && f != nil {
			form = &multipart.Form{
				File: map[string][]*multipart.FileHeader{
					"file": {f},
				},
			}
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse multipart form: " + err.Error()})
			return
		}
	}

	var files []*multipart.FileHeader
	if fs, found := form.File["files"]; found && len(fs) > 0 {
		files = fs
	}
	if len(files) == 0 {
		if f, found := form.File["file"]; found && len(f) > 0 {
			files = f
		}
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	for _, fh := range files {
		if fh.Size > maxFileSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large: " + fh.Filename})
			return
		}
	}

	var userMeta models.JSONMap
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &userMeta); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata is not valid JSON"})
			return
		}
	}
	description := c.PostForm("description")
	backendID := c.PostForm("backend")

	results := make([]UploadResult, 0, len(files))
	for _, fh := range files {
		rec, err := h.ingestOne(c, fh, userID, description, backendID, userMeta)
		if err != nil {
			results = append(results, UploadResult{Success: false, Error: err.Error()})
		} else {
			results = append(results, UploadResult{Success: true, File: rec})
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handlers) ingestOne(c *gin.Context, fh *multipart.FileHeader, userID, description,
	backendID string, userMeta models.JSONMap) (*models.FileRecord, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := h.ingestor.Ingest(c.Request.Context(), services.IngestRequest{
		OwnerID:     userID,
		Name:        fh.Filename,
		Description: description,
		ContentType: fh.Header.Get("Content-Type"),
		BackendID:   backendID,
		UserMeta:    userMeta,
		Stream:      f,
	})
	if errors.Is(err, backend.ErrUnknownBackend) {
		return nil, err
	}
	if err != nil {
		h.log.Error().Err(err).Str("name", fh.Filename).Msg("ingest failed")
		return nil, err
	}
	return rec, nil
}
