package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"newsindex/search"
	"newsindex/types"

	"github.com/gin-gonic/gin"
)

// Searcher is implemented by *search.Service.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]types.SearchResult, error)
}

// SearchRequest is the POST body of /api/search.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type SearchResponse struct {
	Query   string               `json:"query"`
	Results []types.SearchResult `json:"results"`
}

// RegisterSearchRoutes registers query endpoints.
func RegisterSearchRoutes(r *gin.Engine, searcher Searcher, log *slog.Logger) {
	h := &searchController{searcher: searcher, log: log}
	g := r.Group("/api/search")
	g.GET("", h.handleGet)
	g.POST("", h.handlePost)
}

type searchController struct {
	searcher Searcher
	log      *slog.Logger
}

// handleGet serves GET /api/search?q=...&k=...
func (h *searchController) handleGet(c *gin.Context) {
	k := 0
	if raw := c.Query("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be an integer"})
			return
		}
		k = v
	}
	h.respond(c, c.Query("q"), k)
}

func (h *searchController) handlePost(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, req.Query, req.K)
}

func (h *searchController) respond(c *gin.Context, query string, k int) {
	results, err := h.searcher.Search(c.Request.Context(), query, k)
	if err != nil {
		status, retryable := searchErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("search failed", "query", query, "error", err)
		}
		c.JSON(status, gin.H{"error": err.Error(), "retryable": retryable})
		return
	}
	c.JSON(http.StatusOK, SearchResponse{Query: query, Results: results})
}

func searchErrorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, search.ErrInvalidK):
		return http.StatusBadRequest, false
	case types.IsIndexUnavailable(err):
		return http.StatusServiceUnavailable, true
	case types.IsEmbedding(err):
		return http.StatusBadGateway, false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, false
	}
}
