package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
)

// handleGetConfig returns the current configuration with the API token
// masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.API.Token != "" {
		appData.API.Token = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"server":           s.cfg.GetServer(),
		"application_data": appData,
	})
}

type serverFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleUpdateServerField changes one server setting. The change is
// validated, saved and applies to sessions started afterwards.
func (s *Server) handleUpdateServerField(c *gin.Context) {
	var req serverFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetServer()
	if err := s.cfg.UpdateServerField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.cfg.SetServer(previous)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			log.Error().Err(err).Msg("API: failed to save config")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "server",
			Key:     req.Key,
			Value:   req.Value,
		},
	})

	log.Info().Str("key", req.Key).Interface("value", req.Value).Msg("API: server setting updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"server":   s.cfg.GetServer(),
		"warnings": result.Warnings,
	})
}
