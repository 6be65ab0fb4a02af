// Package handlers contains the HTTP handlers for the recommendation API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resoundfm/resound/internal/engine"
)

// Handlers holds the HTTP surface over the engine.
type Handlers struct {
	engine *engine.Engine
}

// NewHandlers creates a handlers instance.
func NewHandlers(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// RegisterRoutes mounts every endpoint on the router.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/events", h.RecordEvent)

		api.GET("/queue/next", h.NextTracks)
		api.POST("/queue/rank", h.RankCandidates)
		api.POST("/queue/auto", h.SetAutoQueue)
		api.GET("/queue/sources", h.QueueSources)

		api.POST("/radio/start", h.StartRadio)
		api.POST("/radio/stop", h.StopRadio)

		api.POST("/tracks", h.AddTrack)
		api.GET("/tracks/:id/similar", h.SimilarTracks)

		api.GET("/profile", h.Profile)
	}
}

// Health reports service liveness and library size.
func (h *Handlers) Health(c *gin.Context) {
	count, err := h.engine.Library.CountTracks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"tracks":  count,
		"indexed": h.engine.Index.Len(),
	})
}

// userID pulls the acting user from query or header. There is no auth layer
// here; identity comes from the caller.
func userID(c *gin.Context) string {
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return c.GetHeader("X-User-ID")
}

func limitParam(c *gin.Context, name string, def, max int) int {
	n, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
