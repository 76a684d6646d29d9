// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package status serves the kiosk pages, a JSON and websocket view of the
// demonstration state, and prometheus metrics.
package status

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/metrics"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultPort is the port the kiosk server listens on
const DefaultPort = 8080

// Config configures the status server
type Config struct {
	Addr         string        // listen address, e.g. ":8080"
	Username     string        // basic auth, disabled when Password is empty
	Password     string
	SlidesDir    string        // served under /slides when set
	PushInterval time.Duration // websocket refresh without events
}

// Server is the HTTP side of the exhibit. It only reads snapshots and never
// touches the device.
type Server struct {
	cfg     Config
	source  museum.SnapshotSource
	metrics *metrics.Registry
	logger  zerolog.Logger
	router  *gin.Engine
	server  *http.Server
	hub     *Hub
	addr    string
}

// New creates a server reading state from source. reg may be nil.
func New(cfg Config, source museum.SnapshotSource, reg *metrics.Registry, logger zerolog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		source:  source,
		metrics: reg,
		logger:  logger,
		router:  gin.New(),
		hub:     NewHub(logger),
	}
	s.router.SetHTMLTemplate(tmpl)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))

	s.router.GET("/health", s.health)

	r := s.router.Group("/")
	if s.cfg.Password != "" {
		r.Use(gin.BasicAuth(gin.Accounts{s.cfg.Username: s.cfg.Password}))
	}
	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/status") })
	r.GET("/index.html", func(c *gin.Context) { c.Redirect(http.StatusFound, "/status") })
	r.GET("/status", s.statusPage)
	r.GET("/message", s.messagePage)
	r.GET("/api/status", s.apiStatus)
	r.GET("/ws", s.websocket)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.cfg.SlidesDir != "" {
		r.Static("/slides", s.cfg.SlidesDir)
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info().Str("address", s.addr).Msg("Starting status server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server failed")
		}
	}()
	return nil
}

// Addr returns the bound address after Start
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops the server and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down status server")
	s.hub.CloseAll()
	return s.server.Shutdown(ctx)
}

// Push broadcasts the current snapshot whenever an event arrives on ch and
// at least every PushInterval, until ctx ends or ch closes
func (s *Server) Push(ctx context.Context, ch <-chan events.Event) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Broadcast(s.source.Snapshot())
		case <-ticker.C:
			s.hub.Broadcast(s.source.Snapshot())
		}
	}
}

//////////////////////////////////////////////////////////////
// Handlers
//////////////////////////////////////////////////////////////

func (s *Server) health(c *gin.Context) {
	snap := s.source.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     snap.State,
		"connected": snap.Connected,
	})
}

func (s *Server) apiStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Snapshot())
}

func (s *Server) statusPage(c *gin.Context) {
	c.HTML(http.StatusOK, "status.html", newStatusView(s.source.Snapshot()))
}

func (s *Server) messagePage(c *gin.Context) {
	c.HTML(http.StatusOK, "message.html", newMessageView(s.source.Snapshot()))
}

func (s *Server) websocket(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, s.source.Snapshot())
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
