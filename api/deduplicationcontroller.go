package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Fingerprints is implemented by *deduplication.Filter.
type Fingerprints interface {
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// RegisterDeduplicationRoutes registers deduplication service endpoints.
func RegisterDeduplicationRoutes(r *gin.Engine, dedup Fingerprints, retention time.Duration, log *slog.Logger) {
	h := &deduplicationController{dedup: dedup, retention: retention, log: log}
	g := r.Group("/api/deduplication")
	g.GET("/count", h.handleCount)
	g.POST("/prune", h.handlePrune)
}

type deduplicationController struct {
	dedup     Fingerprints
	retention time.Duration
	log       *slog.Logger
}

// handleCount returns the number of remembered fingerprints.
func (h *deduplicationController) handleCount(c *gin.Context) {
	count, err := h.dedup.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get count: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// handlePrune runs retention pruning now instead of waiting for the janitor.
func (h *deduplicationController) handlePrune(c *gin.Context) {
	removed, err := h.dedup.Prune(c.Request.Context(), h.retention)
	if err != nil {
		h.log.Error("prune failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prune: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pruned", "removed": removed, "retention": h.retention.String()})
}
