package server

import (
	"fmt"
	"net/http"
	"strings"

	"chart-gateway/src/charting"
	"chart-gateway/src/helpers"
	"chart-gateway/src/interfaces"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
	"chart-gateway/src/session"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config      *models.MConfig
	Logger      *logger.Logger
	Resolver    *session.Resolver
	SideChannel *charting.SideChannel
	Fetcher     interfaces.IDataFetcher
	engine      *gin.Engine
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, resolver *session.Resolver, sideChannel *charting.SideChannel, fetcher interfaces.IDataFetcher, log *logger.Logger) *APIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:      cfg,
		Logger:      log,
		Resolver:    resolver,
		SideChannel: sideChannel,
		Fetcher:     fetcher,
		engine:      gin.Default(),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	if s.Config.Auth.JWTSecret != "" {
		api.Use(JWTAuthMiddleware(s.Config.Auth.JWTSecret))
	}

	api.POST("/fetch", s.postFetch)
	api.DELETE("/watchlists/:id", s.deleteWatchlist)
	api.GET("/health", s.getHealth)
	api.GET("/stats", s.getStats)
	api.POST("/cache/clear", s.postCacheClear)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)
	return s.engine.Run(addr)
}

// Engine exposes the router for tests.
func (s *APIServer) Engine() *gin.Engine {
	return s.engine
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) postFetch(c *gin.Context) {
	var req models.MFetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "symbol is required"})
		return
	}
	if req.Resolution == "" {
		req.Resolution = "1D"
	}
	if req.BarsCount <= 0 {
		req.BarsCount = 300
	}

	creds, err := s.chartingCredentials(req.UserEmail, req.UserEmail == "")
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp, err := s.Fetcher.FetchSymbol(c.Request.Context(), creds, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------

func (s *APIServer) deleteWatchlist(c *gin.Context) {
	watchlistID := c.Param("id")

	// Deleting a watchlist always needs a real session.
	creds, err := s.chartingCredentials(c.Query("user_email"), false)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.SideChannel.DeleteWatchlist(c.Request.Context(), creds, watchlistID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": watchlistID})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.Config.Name,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pool":     s.Fetcher.GetStats(),
		"resolver": s.Resolver.GetStats(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postCacheClear(c *gin.Context) {
	s.Resolver.ClearCache()
	s.SideChannel.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// chartingCredentials resolves the stored charting session for a user, or
// the most recent one when no user is named. With allowAnonymous set, a
// missing session degrades to empty credentials instead of failing.
func (s *APIServer) chartingCredentials(userEmail string, allowAnonymous bool) (models.MChartingCredentials, error) {
	var record models.MSessionRecord
	var err error

	if userEmail != "" {
		record, err = s.Resolver.GetSessionForUser(models.PlatformChartingService, userEmail)
	} else {
		record, err = s.Resolver.GetLatestSession(models.PlatformChartingService)
	}
	if err != nil {
		if allowAnonymous && helpers.IsSessionNotFound(err) {
			s.Logger.Debug("no stored charting session, proceeding anonymously")
			return models.MChartingCredentials{}, nil
		}
		return models.MChartingCredentials{}, err
	}

	return session.ExtractChartingServiceSession(record)
}

// -----------------------------------------------------------------------------

// writeError maps the error taxonomy onto HTTP statuses.
func (s *APIServer) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case helpers.IsSessionNotFound(err):
		status, code = http.StatusNotFound, "session_not_found"
	case helpers.IsSymbolResolution(err):
		status, code = http.StatusNotFound, "symbol_not_found"
	case helpers.IsSessionInvalid(err):
		status, code = http.StatusUnauthorized, "session_invalid"
	case helpers.IsMissingCredentialField(err):
		status, code = http.StatusBadGateway, "missing_credential_field"
	case helpers.IsFetchTimeout(err):
		status, code = http.StatusGatewayTimeout, "fetch_timeout"
	case helpers.IsHandshakeTimeout(err):
		status, code = http.StatusGatewayTimeout, "handshake_timeout"
	case helpers.IsConfigUnavailable(err):
		status, code = http.StatusBadGateway, "config_unavailable"
	case helpers.IsProtocolError(err):
		status, code = http.StatusBadGateway, "protocol_error"
	}

	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed: %v", err)
	} else {
		s.Logger.Warning("request failed (%s): %v", code, err)
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
