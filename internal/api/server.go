package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/presets"
	"github.com/heimdex/heimdex-composer/internal/runs"
	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/timeline"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// Composer runs one pipeline. Satisfied by *compose.Orchestrator.
type Composer interface {
	Run(ctx context.Context, tl *timeline.Timeline, opts compose.RunOptions) (*compose.Result, error)
	BatchSize(override int) int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Pinger reports whether the run ledger's database is reachable.
// Satisfied by *db.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Port     int
	Composer Composer
	Presets  *presets.Registry
	Runs     runs.Repository
	Recorder *runs.Recorder
	Database Pinger
	Doctor   *transcode.CachedDoctor
	Scratch  *scratch.Space
	Logger   *slog.Logger

	StartTime time.Time
	Version   string
	AuthToken string

	// SegmentDuration is the per-URL duration for the flat URL shape.
	SegmentDuration   time.Duration
	MaxConcurrentRuns int
	MinFreeBytes      uint64

	// BaseContext, when set, parents every request context so cancelling
	// it stops in-flight compositions.
	BaseContext context.Context

	slots *semaphore.Weighted
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Compose responses are written after the whole run.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.BaseContext != nil {
		srv.BaseContext = func(net.Listener) context.Context { return cfg.BaseContext }
	}

	return &Server{httpServer: srv, logger: cfg.Logger}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
