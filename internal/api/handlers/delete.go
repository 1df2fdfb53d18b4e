package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlock/filestore/internal/storage"
)

// DeleteFile removes a record explicitly. The shared bytes survive when
// another record still references the same storage key.
func (h *Handlers) DeleteFile(c *gin.Context) {
	fileID := c.Param("id")
	userID, _ := userIDFromContext(c)

	rec, err := h.resolver.Record(c.Request.Context(), fileID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if rec.OwnerID != "" && rec.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	if err := h.gc.DeleteRecord(c.Request.Context(), fileID); err != nil {
		h.log.Error().Err(err).Str("file_id", fileID).Msg("delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted", "file_id": fileID})
}
