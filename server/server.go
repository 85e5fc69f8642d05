// Package server exposes the relay over HTTP: the /ws upgrade endpoint plus
// health, stats, metrics, access tokens and optional static assets.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/thankyoucode/livekit-webstream/config"
	"github.com/thankyoucode/livekit-webstream/domain"
	"github.com/thankyoucode/livekit-webstream/metrics"
	"github.com/thankyoucode/livekit-webstream/token"
	ws "github.com/thankyoucode/livekit-webstream/websocket"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type Server struct {
	cfg      config.Config
	registry domain.Registry
	handler  domain.MessageHandler
	metrics  *metrics.Metrics
	issuer   *token.Issuer
	upgrader websocket.Upgrader
	logger   *slog.Logger
	http     *http.Server
}

// New wires the routes. metrics and issuer may be nil; the matching
// endpoints then answer 500.
func New(cfg config.Config, r domain.Registry, h domain.MessageHandler, m *metrics.Metrics, issuer *token.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: r,
		handler:  h,
		metrics:  m,
		issuer:   issuer,
		logger:   logger.With("mod", "server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.http = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.Handler(),
	}
	s.http.RegisterOnShutdown(func() {
		n := s.registry.CloseAll(domain.CloseGoingAway, "server shutting down")
		s.logger.Info("closing connections", "count", n)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLogger())

	e.GET("/ws", gin.WrapF(s.wsHandler))
	e.GET("/health", healthHandler)
	e.GET("/stats", s.statsHandler)
	e.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	e.GET("/api/token", gin.WrapF(token.Handler(s.issuer)))
	if s.cfg.StaticDir != "" {
		e.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.StaticDir))))
	}
	return e
}

// Run serves until ctx is cancelled, then shuts down within
// cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", "addr", s.cfg.Addr(), "tls", s.cfg.TLSEnabled())
		var err error
		if s.cfg.TLSEnabled() {
			err = s.http.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.http.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade error", "error", err)
		return
	}

	id := uuid.New().String()
	s.logger.Debug("new connection", "clientId", id, "remoteAddr", r.RemoteAddr)
	wsConn := ws.NewConn(id, conn, s.registry, s.handler, ws.Options{
		MaxMessageSize:    s.cfg.Relay.MaxMessageBytes,
		SendBuffer:        s.cfg.Relay.SendBuffer,
		MessagesPerSecond: s.cfg.Relay.MessagesPerSecond,
		Burst:             s.cfg.Relay.Burst,
	})
	wsConn.Start()
}

// checkOrigin admits every origin when no allow-list is configured, and
// always admits requests without an Origin header (non-browser clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.Relay.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.Relay.AllowedOrigins, origin)
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Stats())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
