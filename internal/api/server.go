// Package api is the thin HTTP boundary over the render core: trigger a
// synchronous render, enqueue an asynchronous one, read job records and
// follow progress over a reconnect-tolerant SSE channel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/common/entities"
	"github.com/clipforge/clipforge/internal/progress"
	"github.com/clipforge/clipforge/internal/queue"
	"github.com/clipforge/clipforge/internal/supervisor"
)

// JobReader reads persisted job records.
type JobReader interface {
	Get(ctx context.Context, id string) (*entities.RenderJob, error)
	List(ctx context.Context, limit int) ([]*entities.RenderJob, error)
}

// Enqueuer submits jobs to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job entities.RenderJob) error
	Depth(ctx context.Context) (queue.Depth, error)
}

type ServerConfig struct {
	Addr     string
	Renderer *supervisor.Renderer
	Jobs     JobReader
	Records  supervisor.Jobs
	Queue    Enqueuer
	Progress progress.Store
	Logger   zerolog.Logger
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			Handler:     NewRouter(cfg),
			ReadTimeout: 15 * time.Second,
			// Sync renders and SSE streams outlive any sane write timeout.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
