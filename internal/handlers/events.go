package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/resoundfm/resound/internal/engine"
	"github.com/resoundfm/resound/internal/models"
)

var validEventTypes = map[models.EventType]bool{
	models.EventListen:      true,
	models.EventSkip:        true,
	models.EventLike:        true,
	models.EventDislike:     true,
	models.EventDownload:    true,
	models.EventPlaylistAdd: true,
}

// RecordEvent ingests a user interaction.
// POST /api/events
func (h *Handlers) RecordEvent(c *gin.Context) {
	var event models.UserEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}

	if event.UserID == "" || event.TrackID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and track_id are required"})
		return
	}
	if !validEventTypes[event.Type] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event type: " + string(event.Type)})
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if err := h.engine.RecordEvent(c.Request.Context(), &event); err != nil {
		if errors.Is(err, engine.ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Track not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_id": event.ID})
}
