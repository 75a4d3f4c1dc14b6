package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/config"
	"unlocker/internal/resolver"
	"unlocker/internal/storage"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	config       *config.Config
	router       http.Handler
	httpServer   *http.Server
	orchestrator *resolver.Orchestrator
	pgStore      *storage.PostgresStore
	redisStore   *storage.RedisStore
	logger       *zap.Logger
}

func NewServer(cfg *config.Config, o *resolver.Orchestrator, ps *storage.PostgresStore, rs *storage.RedisStore, l *zap.Logger) *Server {
	s := &Server{
		config:       cfg,
		orchestrator: o,
		pgStore:      ps,
		redisStore:   rs,
		logger:       l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
