// Package server is the reference trail server: an idempotent PUT per trail
// id, a per-user listing and a health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/feed"
	"github.com/trailog/recorder/internal/trailstore"
)

const shutdownTimeout = 5 * time.Second

// Server serves trails out of a trailstore.Store.
type Server struct {
	store   *trailstore.Store
	secret  []byte
	prefix  string
	health  func(ctx context.Context) error
	feed    *feed.Hub
	onSaved []func(ctx context.Context, t api.Trail)
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithPrefix mounts the routes under prefix, e.g. "/api".
func WithPrefix(prefix string) Option {
	return func(s *Server) {
		s.prefix = prefix
	}
}

// WithHealth makes /healthcheck report 503 when fn fails.
func WithHealth(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithFeed serves the live feed at /trails/live and publishes every saved
// trail to it.
func WithFeed(hub *feed.Hub) Option {
	return func(s *Server) {
		s.feed = hub
		s.onSaved = append(s.onSaved, hub.Publish)
	}
}

// WithOnSaved runs fn after every accepted upload.
func WithOnSaved(fn func(ctx context.Context, t api.Trail)) Option {
	return func(s *Server) {
		s.onSaved = append(s.onSaved, fn)
	}
}

// New creates a server. secret verifies HS256 bearer tokens.
func New(store *trailstore.Store, secret string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		secret: []byte(secret),
		logger: logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	g := r.Group(s.prefix)
	g.GET("/healthcheck", s.healthcheck)

	trails := g.Group("/trails", requireAuth(s.secret))
	trails.GET("", s.listTrails)
	if s.feed != nil {
		trails.GET("/live", s.liveTrails)
	}
	trails.GET("/:trailId", s.getTrail)
	trails.PUT("/:trailId", s.putTrail)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Trail server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("trail server stopped: %w", err)
	case <-ctx.Done():
	}

	// hijacked feed connections are not closed by Shutdown
	if s.feed != nil {
		s.feed.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down trail server: %w", err)
	}
	return nil
}

func (s *Server) healthcheck(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) putTrail(c *gin.Context) {
	var payload api.TrailPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	trailID := c.Param("trailId")
	created, err := s.store.Upsert(c.Request.Context(), c.GetString(userIDKey), trailID, payload)
	switch {
	case errors.Is(err, trailstore.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, trailstore.ErrForbidden):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("Failed to save trail", "trailId", trailID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save trail"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"trail_id": trailID, "created": created})

	if len(s.onSaved) > 0 {
		s.publish(c.Request.Context(), trailID)
	}
}

func (s *Server) publish(ctx context.Context, trailID string) {
	t, err := s.store.Get(ctx, trailID)
	if err != nil {
		s.logger.Warn("Failed to reload saved trail", "trailId", trailID, "error", err)
		return
	}
	for _, fn := range s.onSaved {
		fn(ctx, t.API())
	}
}

func (s *Server) liveTrails(c *gin.Context) {
	s.feed.Serve(c.Writer, c.Request, c.GetString(userIDKey))
}

func (s *Server) listTrails(c *gin.Context) {
	trails, err := s.store.List(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.logger.Error("Failed to list trails", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trails"})
		return
	}
	out := make([]api.Trail, len(trails))
	for i, t := range trails {
		out[i] = t.API()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTrail(c *gin.Context) {
	t, err := s.store.Get(c.Request.Context(), c.Param("trailId"))
	if errors.Is(err, trailstore.ErrNotFound) || (err == nil && t.UserID != c.GetString(userIDKey)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trail not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to load trail", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trail"})
		return
	}
	c.JSON(http.StatusOK, t.API())
}
