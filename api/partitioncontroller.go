package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"newsindex/partition"

	"github.com/gin-gonic/gin"
)

// Partitions is implemented by *partition.Manager.
type Partitions interface {
	Statuses() []partition.Status
	Status(id string) (partition.Status, bool)
	PollNow(id string) error
	Replay(ctx context.Context, id, cursor string) error
}

// ReplayRequest resets a checkpoint; an empty cursor means the provider's
// initial cursor.
type ReplayRequest struct {
	Cursor string `json:"cursor"`
}

// RegisterPartitionRoutes registers operator endpoints for partitions.
func RegisterPartitionRoutes(r *gin.Engine, partitions Partitions, log *slog.Logger) {
	h := &partitionController{partitions: partitions, log: log}
	g := r.Group("/api/partitions")
	g.GET("", h.handleList)
	g.GET("/:id", h.handleGet)
	g.POST("/:id/poll", h.handlePoll)
	g.POST("/:id/replay", h.handleReplay)
}

type partitionController struct {
	partitions Partitions
	log        *slog.Logger
}

func (h *partitionController) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"partitions": h.partitions.Statuses()})
}

func (h *partitionController) handleGet(c *gin.Context) {
	st, ok := h.partitions.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": partition.ErrUnknownPartition.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// handlePoll wakes a polling partition; it returns before the fetch runs.
func (h *partitionController) handlePoll(c *gin.Context) {
	id := c.Param("id")
	if err := h.partitions.PollNow(id); err != nil {
		c.JSON(partitionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "poll scheduled", "partition": id})
}

func (h *partitionController) handleReplay(c *gin.Context) {
	id := c.Param("id")
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.partitions.Replay(c.Request.Context(), id, req.Cursor); err != nil {
		status := partitionErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("replay failed", "partition", id, "error", err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("replay requested", "partition", id, "cursor", req.Cursor)
	c.JSON(http.StatusAccepted, gin.H{"status": "replay scheduled", "partition": id, "cursor": req.Cursor})
}

func partitionErrorStatus(err error) int {
	switch {
	case errors.Is(err, partition.ErrUnknownPartition):
		return http.StatusNotFound
	case errors.Is(err, partition.ErrNotPolling):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
