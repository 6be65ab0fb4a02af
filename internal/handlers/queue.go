package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/queue"
)

// NextTracks pops the next tracks off the smart queue, replenishing when it
// runs low.
// GET /api/queue/next?user_id=&n=
func (h *Handlers) NextTracks(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	n := limitParam(c, "n", 5, 20)

	tracks, err := h.engine.Queue.NextTracks(c.Request.Context(), user, n)
	if err != nil {
		if errors.Is(err, queue.ErrNoCandidates) {
			c.JSON(http.StatusOK, gin.H{
				"tracks":  []models.ScoredTrack{},
				"message": "No matching tracks found",
			})
			return
		}
		if errors.Is(err, queue.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Queue is replenishing, retry shortly"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tracks": tracks,
		"mode":   h.engine.Queue.Mode(user),
	})
}

// RankCandidates scores caller-supplied candidate tracks without mutating
// the queue.
// POST /api/queue/rank
func (h *Handlers) RankCandidates(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var req struct {
		TrackIDs []string `json:"track_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "track_ids is required"})
		return
	}

	cands := make([]models.QueueCandidate, 0, len(req.TrackIDs))
	for _, id := range req.TrackIDs {
		track, err := h.engine.Library.GetTrack(c.Request.Context(), id)
		if err != nil {
			continue
		}
		cands = append(cands, models.QueueCandidate{
			Track:  *track,
			Source: models.QueueSource{Type: models.SourceLocal, Label: "Your selection"},
		})
	}

	ranked := h.engine.Queue.RankCandidates(c.Request.Context(), user, cands)
	c.JSON(http.StatusOK, gin.H{"tracks": ranked})
}

// SetAutoQueue toggles auto-queue mode.
// POST /api/queue/auto
func (h *Handlers) SetAutoQueue(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if req.Enabled {
		if err := h.engine.Queue.EnableAutoQueue(user); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Stop radio before enabling auto-queue"})
			return
		}
	} else {
		h.engine.Queue.DisableAutoQueue(user)
	}

	c.JSON(http.StatusOK, gin.H{"mode": h.engine.Queue.Mode(user)})
}

// QueueSources returns the provenance map for queued and served tracks.
// GET /api/queue/sources
func (h *Handlers) QueueSources(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": h.engine.Queue.Sources(user)})
}

// StartRadio begins a radio session from a seed track, artist or genre.
// POST /api/radio/start
func (h *Handlers) StartRadio(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var seed models.RadioSeed
	if err := c.ShouldBindJSON(&seed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seed payload"})
		return
	}

	switch seed.Type {
	case models.SeedTrack, models.SeedArtist, models.SeedGenre:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown seed type: " + string(seed.Type)})
		return
	}
	if seed.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Seed id is required"})
		return
	}

	if err := h.engine.Queue.StartRadio(user, seed); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Disable auto-queue before starting radio"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"mode": h.engine.Queue.Mode(user)})
}

// StopRadio ends the radio session.
// POST /api/radio/stop
func (h *Handlers) StopRadio(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	h.engine.Queue.StopRadio(user)
	c.JSON(http.StatusOK, gin.H{"mode": h.engine.Queue.Mode(user)})
}
