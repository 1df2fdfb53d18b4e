package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/services"
)

// Handlers bundles the service layer for the HTTP surface.
type Handlers struct {
	ingestor *services.Ingestor
	ledger   *services.Ledger
	gc       *services.Collector
	resolver *services.Resolver
	log      zerolog.Logger
}

func New(ingestor *services.Ingestor, ledger *services.Ledger, gc *services.Collector,
	resolver *services.Resolver, log zerolog.Logger) *Handlers {
	return &Handlers{
		ingestor: ingestor,
		ledger:   ledger,
		gc:       gc,
		resolver: resolver,
		log:      log,
	}
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
