package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is the server software version reported by the API.
const Version = "0.3.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "alphacraft",
		"version": Version,
	})
}

// handleGetServerInfo returns what a server list would show.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	status := s.manager.GetStatus()
	c.JSON(http.StatusOK, gin.H{
		"name":             status.Name,
		"motd":             status.MOTD,
		"protocol_version": status.ProtocolVersion,
		"players":          status.Players,
		"max_players":      status.MaxPlayers,
		"version":          Version,
	})
}
