// Package api is the HTTP surface: a versioned /v1 JSON API with basic auth,
// session scoping via the X-Session-Id header, and a websocket event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"market-replay-broker/internal/auth"
	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/events"
	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/session"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	controller  *session.Controller
	barStore    bars.BarStore
	bus         *events.Bus
	keys        *auth.Registry
	rateLimiter *RateLimiter
	hub         *WSHub
	config      ServerConfig
	logger      *logging.Logger
}

// NewServer creates a new API server.
func NewServer(config ServerConfig, controller *session.Controller, barStore bars.BarStore, bus *events.Bus, keys *auth.Registry, logger *logging.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Session-Id"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Retry-After"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		controller:  controller,
		barStore:    barStore,
		bus:         bus,
		keys:        keys,
		rateLimiter: NewRateLimiter(600, time.Minute),
		hub:         NewWSHub(logger),
		config:      config,
		logger:      logger.WithComponent("api"),
	}

	server.setupRoutes()
	server.hub.Attach(bus)
	go server.hub.Run()

	return server
}

// rateLimitMiddleware rejects callers that exceed the per-endpoint budget.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.Header("Retry-After", strconv.Itoa(int(s.rateLimiter.window.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    42910000,
				"message": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// authMiddleware validates basic auth and stores the key name as the owner
// key for session scoping.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := s.keys.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set("owner_key", key.Key)
		c.Next()
	}
}

// sessionMiddleware parses the mandatory X-Session-Id header.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Session-Id")
		if raw == "" {
			writeError(c, errs.Field("X-Session-Id", "X-Session-Id header is required"))
			c.Abort()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, errs.Field("X-Session-Id", "X-Session-Id must be a UUID"))
			c.Abort()
			return
		}
		c.Set("session_id", id)
		c.Next()
	}
}

// pathSessionMiddleware resolves the session from the :id path segment for
// the clock routes.
func (s *Server) pathSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			writeError(c, errs.Field("id", "session id must be a UUID"))
			c.Abort()
			return
		}
		c.Set("session_id", id)
		c.Next()
	}
}

func ownerKey(c *gin.Context) string {
	return c.GetString("owner_key")
}

func sessionID(c *gin.Context) uuid.UUID {
	v, _ := c.Get("session_id")
	id, _ := v.(uuid.UUID)
	return id
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimitMiddleware())
	v1.Use(s.authMiddleware())

	// Session lifecycle; not session-scoped, no X-Session-Id needed.
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)

	// Clock control; the session id rides in the path here.
	clockRoutes := v1.Group("/sessions/:id/time")
	clockRoutes.Use(s.pathSessionMiddleware())
	{
		clockRoutes.POST("/advance", s.handleAdvance)
		clockRoutes.POST("/play", s.handlePlay)
		clockRoutes.POST("/pause", s.handlePause)
		clockRoutes.PUT("/speed", s.handleSetSpeed)
	}

	// Everything below operates inside one session, selected by X-Session-Id.
	scoped := v1.Group("")
	scoped.Use(s.sessionMiddleware())
	{
		scoped.POST("/accounts", s.handleCreateAccount)
		scoped.GET("/accounts", s.handleListAccounts)
		scoped.GET("/accounts/:account_id", s.handleGetAccount)
		scoped.PATCH("/accounts/:account_id", s.handlePatchAccount)
		scoped.DELETE("/accounts/:account_id", s.handleDeleteAccount)

		trading := scoped.Group("/trading/accounts/:account_id")
		{
			trading.POST("/orders", s.handleSubmitOrder)
			trading.GET("/orders", s.handleListOrders)
			trading.GET("/orders/:order_id", s.handleGetOrder)
			trading.DELETE("/orders/:order_id", s.handleCancelOrder)

			trading.GET("/positions", s.handleListPositions)
			trading.GET("/positions/:symbol", s.handleGetPosition)
			trading.DELETE("/positions/:symbol", s.handleClosePosition)
		}

		scoped.GET("/assets", s.handleListAssets)
		scoped.GET("/assets/:symbol/bars", s.handleGetBars)
		scoped.GET("/assets/:symbol/quotes/latest", s.handleLatestQuote)
	}

	// Websocket event stream; authenticates inside the handler because
	// browser websocket clients cannot set arbitrary headers.
	s.router.GET("/v1/stream", s.handleStream)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.barStore.ListSymbols(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"bar_store": "unhealthy",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"bar_store": "healthy",
	})
}

// writeError maps a domain error onto the wire envelope {code, message,
// field?}. Validation errors return the first violation's field with the full
// list attached.
func writeError(c *gin.Context, err error) {
	var verrs errs.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs.First()
		body := gin.H{
			"code":    first.Kind.Code(),
			"message": first.Message,
		}
		if first.Field != "" {
			body["field"] = first.Field
		}
		if len(verrs) > 1 {
			details := make([]gin.H, 0, len(verrs))
			for _, v := range verrs {
				details = append(details, gin.H{"field": v.Field, "message": v.Message})
			}
			body["violations"] = details
		}
		c.JSON(first.Kind.HTTPStatus(), body)
		return
	}

	kind := errs.KindOf(err)
	body := gin.H{
		"code":    kind.Code(),
		"message": err.Error(),
	}
	var de *errs.Error
	if errors.As(err, &de) && de.Field != "" {
		body["field"] = de.Field
	}
	c.JSON(kind.HTTPStatus(), body)
}
