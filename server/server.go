// Package server exposes the hub over HTTP: the websocket endpoint plus a
// few read-only JSON routes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"roomhub/hub"
)

type Server struct {
	hub        *hub.Manager
	history    hub.HistoryStore
	config     *ServerConfig
	upgrader   websocket.Upgrader
	httpServer *http.Server
	reads      singleflight.Group
	log        *zerolog.Logger
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HistoryTimeout time.Duration
	MaxFrameSize   int64
	MaxHistory     int
	MaxRoomName    int
	AllowedOrigins []string
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "server").Logger()
	return &l
}

func New(manager *hub.Manager, history hub.HistoryStore, config *ServerConfig) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.HistoryTimeout <= 0 {
		config.HistoryTimeout = 2 * time.Second
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = 8192
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 50
	}
	if config.MaxRoomName <= 0 {
		config.MaxRoomName = 64
	}

	origins := newOriginPolicy(config.AllowedOrigins)
	s := &Server{
		hub:     manager,
		history: history,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: logger(),
	}
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler builds the router. It is exported so tests can mount it on an
// httptest server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Get("/rooms", s.handleRooms)
	r.Get("/rooms/{room}/history", s.handleHistory)
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("roomhub server started")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections. Upgraded websockets are not tracked
// by net/http; they close when the hub releases their sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// GetStats returns hub statistics in the control socket format.
func (s *Server) GetStats(ctx context.Context) (string, error) {
	stats, err := s.hub.Stats(ctx)
	if err != nil {
		return "", err
	}
	return stats.String(), nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
