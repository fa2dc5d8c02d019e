// Package server exposes the dashboard over HTTP: the WebSocket gateway that
// feeds live task events to browsers, the REST endpoints for reading and
// editing task documents, and the compiled UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/makerGeek/claudiomiro/internal/hub"
	"github.com/makerGeek/claudiomiro/internal/journal"
	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/projectpath"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server
type Options struct {
	Addr      string
	Validator *projectpath.Validator
	Hub       *hub.Hub
	Journal   *journal.Store // nil disables /api/events
	StaticDir string
	Logger    logger.Logger
	Version   string
}

// Server is the dashboard HTTP server
type Server struct {
	addr      string
	validator *projectpath.Validator
	hub       *hub.Hub
	journal   *journal.Store
	staticDir string
	version   string
	log       logger.Logger

	router *gin.Engine
}

// New creates a Server. A nil Validator allows every project with a state
// root; a nil Hub gets a default one.
func New(opts Options) *Server {
	log := logger.OrNop(opts.Logger)

	s := &Server{
		addr:      opts.Addr,
		validator: opts.Validator,
		hub:       opts.Hub,
		journal:   opts.Journal,
		staticDir: opts.StaticDir,
		version:   opts.Version,
		log:       log,
	}
	if s.validator == nil {
		s.validator = projectpath.NewValidator(nil)
	}
	if s.hub == nil {
		s.hub = hub.New(hub.Options{Logger: log})
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/ws", s.handleWebSocket)

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/hub", s.handleHubStats)
		api.GET("/projects/validate", s.handleValidate)
		api.GET("/projects/state", s.handleState)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id/status", s.handleGetStatus)
		api.PUT("/tasks/:id/status", s.handlePutStatus)
		api.GET("/tasks/:id/blueprint", s.handleGetBlueprint)
		api.PUT("/tasks/:id/blueprint", s.handlePutBlueprint)
		api.GET("/tasks/:id/review", s.handleGetReview)
		api.PUT("/tasks/:id/review", s.handlePutReview)
		api.GET("/prompt", s.handleGetPrompt)
		api.GET("/events", s.handleEvents)
	}

	if s.staticDir != "" {
		router.NoRoute(s.handleStatic)
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the subscription registry used by the server
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Run listens on the configured address and serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled. Shutdown order: the hub first so
// every watch handle and client connection is released, then the listener,
// then the journal.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.LogInfo(fmt.Sprintf("dashboard listening on http://%s", ln.Addr()))

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	s.log.LogInfo("shutting down")
	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown http server: %w", err)
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.LogWarn(fmt.Sprintf("close journal: %v", err))
		}
	}
	return serveErr
}

// requestLogger logs every request at debug level through the server logger
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.LogDebug(fmt.Sprintf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond)))
	}
}

// handleStatic serves the compiled UI, falling back to index.html so
// client-side routes resolve.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	rel := filepath.FromSlash(filepath.Clean("/" + c.Request.URL.Path))
	path := filepath.Join(s.staticDir, rel)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		c.File(path)
		return
	}

	index := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(index)
}
