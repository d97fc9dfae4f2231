package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/metrics"
	"github.com/snarg/sq-engine/internal/queue"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Options carries the wiring the router needs.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AdminToken string
	Version    string
	StartTime  time.Time

	Upload *UploadHandler
	DB     *database.DB
	Queue  *queue.Queue
	Broker Broker
}

func NewServer(opts Options, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// The uploader-facing ingest endpoint carries its own key-based
	// authentication.
	r.Post("/api/call-upload", opts.Upload.ServeHTTP)

	health := NewHealthHandler(opts.DB, opts.Queue, opts.Broker, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	calls := NewCallsHandler(opts.DB)
	r.Get("/api/v1/calls", calls.List)
	r.Get("/api/v1/calls/{call_id}", calls.Get)
	r.Get("/api/v1/calls/{call_id}/transcription", calls.Transcription)
	r.Get("/api/v1/transcriptions/search", calls.Search)

	queueH := NewQueueHandler(opts.Queue)
	r.Get("/api/v1/queue/stats", queueH.Stats)
	r.Get("/api/v1/queue/tasks/{task_id}", queueH.Task)

	// Audit endpoints are for operators, not uploaders.
	security := NewSecurityHandler(opts.DB)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.AdminToken))
		r.Get("/api/v1/security/events", security.Events)
		r.Get("/api/v1/security/summary", security.Summary)
		r.Get("/api/v1/security/analysis/source/{system_id}", security.AnalyzeSource)
		r.Get("/api/v1/security/uploads/sources", security.UploadSources)
	})

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
