package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/resoundfm/resound/internal/engine"
	"github.com/resoundfm/resound/internal/models"
)

// AddTrack stores a track and indexes it for retrieval.
// POST /api/tracks
func (h *Handlers) AddTrack(c *gin.Context) {
	var track models.Track
	if err := c.ShouldBindJSON(&track); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid track payload"})
		return
	}

	if track.Title == "" || len(track.Artists) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and artists are required"})
		return
	}
	if track.ID == "" {
		track.ID = uuid.New().String()
	}

	if err := h.engine.AddTrack(c.Request.Context(), &track); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store track"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"track_id": track.ID})
}

// SimilarTracks returns the index neighbors of a track.
// GET /api/tracks/:id/similar?n=
func (h *Handlers) SimilarTracks(c *gin.Context) {
	trackID := c.Param("id")
	n := limitParam(c, "n", 10, 50)

	tracks, err := h.engine.SimilarTracks(c.Request.Context(), trackID, n)
	if err != nil {
		if errors.Is(err, engine.ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Track not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Similarity lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

// Profile returns the engine's learned view of a user.
// GET /api/profile?user_id=
func (h *Handlers) Profile(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	c.JSON(http.StatusOK, h.engine.Profile(user))
}
