package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/db"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/health"
	intnet "github.com/alphacraft-project/alphacraft/internal/network"
	"github.com/alphacraft-project/alphacraft/internal/server"
	"github.com/alphacraft-project/alphacraft/internal/util"
)

// HistoryReader is the part of the history store the API serves.
type HistoryReader interface {
	RecentLogins(limit int) ([]db.LoginRecord, error)
	PlayerLogins(username string, limit int) ([]db.LoginRecord, error)
	RecentSessionErrors(limit int) ([]db.SessionErrorRecord, error)
}

// HealthReporter exposes the latest self check results.
type HealthReporter interface {
	Results() []health.Result
	Healthy() bool
}

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	history  HistoryReader
	health   HealthReporter

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when the database
// is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, history HistoryReader) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
	}
}

// SetHealth attaches the health checker. Call before Handler or Start.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler returns the HTTP handler, building the router on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start binds the API address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	appData := s.cfg.GetApplicationData()
	addr := appData.API.ListenAddress()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if appData.Security.TLSEnabled {
		certFile, keyFile := appData.Security.TLSCertFile, appData.Security.TLSKeyFile
		if !util.FileExists(certFile) || !util.FileExists(keyFile) {
			log.Warn().Str("cert", certFile).Msg("API certificate not found, generating a self-signed one")
			if err := util.GenerateSelfSignedCert(certFile, keyFile); err != nil {
				return fmt.Errorf("failed to generate API certificate: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", appData.Security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if appData.Security.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	appData := s.cfg.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := appData.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(appData.Security.RateLimitRPS).Middleware())
	router.Use(IPWhitelist(appData.Security.IPWhitelist))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/status", s.handleGetStatus)
		monitor.GET("/players", s.handleGetPlayers)
		monitor.GET("/players/:username", s.handleGetPlayer)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/history", s.handleGetHistory)
		monitor.GET("/errors", s.handleGetSessionErrors)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/health", s.handleGetHealth)
	}

	control := protected.Group("/control")
	{
		control.POST("/kick/:username", s.handleKickPlayer)
		control.POST("/kick_all", s.handleKickAll)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.PATCH("/server", s.handleUpdateServerField)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
