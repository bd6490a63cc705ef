package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/server"
)

type kickRequest struct {
	Reason string `json:"reason"`
}

// handleKickPlayer disconnects one player.
func (s *Server) handleKickPlayer(c *gin.Context) {
	username := c.Param("username")

	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.manager.Kick(username, req.Reason); err != nil {
		if errors.Is(err, server.ErrPlayerNotOnline) {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "username": username})
			return
		}
		log.Error().Err(err).Str("username", username).Msg("API: kick failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("username", username).Str("client_ip", c.ClientIP()).Msg("API: player kicked")

	c.JSON(http.StatusOK, gin.H{
		"status":   "kicked",
		"username": username,
	})
}

// handleKickAll disconnects every logged-in player.
func (s *Server) handleKickAll(c *gin.Context) {
	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	kicked := []string{}
	for _, p := range s.manager.Players() {
		if err := s.manager.Kick(p.Username, req.Reason); err == nil {
			kicked = append(kicked, p.Username)
		}
	}

	log.Info().Int("count", len(kicked)).Str("client_ip", c.ClientIP()).Msg("API: kicked all players")

	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"kicked": kicked,
	})
}
