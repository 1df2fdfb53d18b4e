package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftlock/filestore/internal/models"
	"github.com/driftlock/filestore/internal/services"
)

type diffRequest struct {
	FileIDs     []string `json:"file_ids"`
	PreviousIDs []string `json:"previous_ids"`
	TTLSeconds  int64    `json:"ttl_seconds,omitempty"`
}

// The diff only needs the ids of the previous set; building stub records
// avoids a read of rows the ledger may already have collected.
func previousStubs(ids []string) []*models.FileRecord {
	prev := make([]*models.FileRecord, len(ids))
	for i, id := range ids {
		prev[i] = &models.FileRecord{ID: id}
	}
	return prev
}

func diffResponse(c *gin.Context, res *services.DiffResult) {
	added := make([]string, len(res.Added))
	for i, rec := range res.Added {
		added[i] = rec.ID
	}
	removed := make([]string, len(res.Removed))
	for i, rec := range res.Removed {
		removed[i] = rec.ID
	}
	c.JSON(http.StatusOK, gin.H{
		"current": res.Current,
		"added":   added,
		"removed": removed,
	})
}

// MarkUsage applies an attachment-list change: newly referenced files
// gain a usage reference, dropped ones lose theirs.
func (h *Handlers) MarkUsage(c *gin.Context) {
	var req diffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.ledger.DiffAndMark(c.Request.Context(), req.FileIDs, previousStubs(req.PreviousIDs))
	if err != nil {
		h.log.Error().Err(err).Msg("usage diff failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage update failed"})
		return
	}
	diffResponse(c, res)
}

// SetExpiry applies the same diff shape to the expiry axis: added files
// get a deadline ttl_seconds from now, removed ones get it cleared.
func (h *Handlers) SetExpiry(c *gin.Context) {
	var req diffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TTLSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttl_seconds must be positive"})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := h.ledger.DiffAndSetExpiry(c.Request.Context(), req.FileIDs, ttl, previousStubs(req.PreviousIDs))
	if err != nil {
		h.log.Error().Err(err).Msg("expiry diff failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "expiry update failed"})
		return
	}
	diffResponse(c, res)
}
