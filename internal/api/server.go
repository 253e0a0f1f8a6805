package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/config"
	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/feedback"
	"github.com/serenalabs/breath-engine/internal/ingest"
	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/mqttclient"
	"github.com/serenalabs/breath-engine/internal/session"
	"github.com/serenalabs/breath-engine/internal/stream"
)

// Deps carries everything the HTTP surface talks to. MQTT, Spool and
// OnSessionEnd are optional.
type Deps struct {
	DB       *database.DB
	Ingest   *ingest.Service
	Hub      *stream.Hub
	Registry *session.Registry
	Feedback *feedback.Generator
	MQTT     *mqttclient.Client
	Spool    *ingest.SpoolWatcher

	// OnSessionEnd runs after a session ended through the API.
	OnSessionEnd func(sessionID string)

	Version   string
	StartTime time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface: banner, probes, metrics
	root := NewRootHandler(deps.DB, deps.Version, deps.StartTime)
	r.Get("/", root.Banner)
	r.Get("/healthz", root.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Spool, deps.Version, deps.StartTime)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", root.Ping)
		r.Get("/status", root.Status)
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))

			NewIngestHandler(deps.Ingest).Routes(r)
			NewStreamHandler(deps.Hub).Routes(r)
			NewSessionsHandler(deps.DB, deps.Registry, deps.Feedback, deps.OnSessionEnd).Routes(r)
			NewSignalsHandler(deps.DB).Routes(r)
			NewDevicesHandler(deps.DB).Routes(r)
			NewTechniquesHandler(deps.DB).Routes(r)
			NewParamsHandler(deps.DB).Routes(r)
			NewRulesHandler(deps.DB).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
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
