package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlock/filestore/internal/storage"
)

// GetFileInfo returns the file record itself, not its bytes.
func (h *Handlers) GetFileInfo(c *gin.Context) {
	rec, err := h.resolver.Record(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("file_id", c.Param("id")).Msg("record lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetFiles resolves a batch of ids in one call; unknown ids are simply
// absent from the response.
func (h *Handlers) GetFiles(c *gin.Context) {
	var req struct {
		FileIDs []string `json:"file_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	recs, err := h.resolver.Records(c.Request.Context(), req.FileIDs)
	if err != nil {
		h.log.Error().Err(err).Msg("batch lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": recs})
}

// Download sends the caller to the file's bytes: a redirect to the
// resolved URL, or the staged copy while the upload is still pending.
func (h *Handlers) Download(c *gin.Context) {
	res, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("file_id", c.Param("id")).Msg("resolve failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
		return
	}
	if res.LocalPath != "" {
		c.File(res.LocalPath)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, res.URL)
}
