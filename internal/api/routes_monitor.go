package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleGetStatus returns the server status summary.
func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetStatus())
}

// handleGetPlayers lists logged-in players in join order.
func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.manager.Players()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(players),
		"players": players,
	})
}

// handleGetPlayer returns one player.
func (s *Server) handleGetPlayer(c *gin.Context) {
	username := c.Param("username")
	p, ok := s.manager.GetPlayer(username)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "username": username})
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleGetSessions lists open client connections, including ones that have
// not logged in.
func (s *Server) handleGetSessions(c *gin.Context) {
	sessions := s.manager.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleGetHistory returns stored logins, optionally for one username.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database disabled"})
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	var (
		records interface{}
		err     error
	)
	if username := c.Query("username"); username != "" {
		records, err = s.history.PlayerLogins(username, limit)
	} else {
		records, err = s.history.RecentLogins(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("API: history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logins": records})
}

// handleGetSessionErrors returns recent failed sessions.
func (s *Server) handleGetSessionErrors(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database disabled"})
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	records, err := s.history.RecentSessionErrors(limit)
	if err != nil {
		log.Error().Err(err).Msg("API: session error query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"errors": records})
}

// handleGetSystem returns host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{
		"system": util.GetSystemInfo(),
	}

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpuPct
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = memUsage
	}
	if proc, err := util.GetProcessStats(); err == nil {
		resp["process"] = proc
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetHealth returns the latest self check results, with 503 while any
// check is failing.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks disabled"})
		return
	}

	status := http.StatusOK
	healthy := s.health.Healthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  s.health.Results(),
	})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}
