// Package app is the composition root: it parses configuration, builds the
// orchestrator with the three provider adapters, and assembles the HTTP
// router with its middleware chain.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/troika-ai/troika/internal/credential"
	"github.com/troika-ai/troika/internal/dispatch"
	"github.com/troika-ai/troika/internal/enrich"
	"github.com/troika-ai/troika/internal/httpapi"
	"github.com/troika-ai/troika/internal/logging"
	"github.com/troika-ai/troika/internal/orchestrator"
	"github.com/troika-ai/troika/internal/provider/deepseek"
	"github.com/troika-ai/troika/internal/provider/perplexity"
	"github.com/troika-ai/troika/internal/provider/qwen"
	"github.com/troika-ai/troika/internal/ratelimit"
	"github.com/troika-ai/troika/internal/secrets"
	"github.com/troika-ai/troika/internal/store"
	"github.com/troika-ai/troika/internal/temporal"
	"github.com/troika-ai/troika/internal/tracing"
)

type Server struct {
	cfg Config

	r *chi.Mux

	core     *orchestrator.Orchestrator
	store    store.Store
	temporal *temporal.Manager
	limiter  *ratelimit.Limiter
	prober   *credential.Prober
	logger   *slog.Logger

	traceShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "troika",
	})
	if err != nil {
		return nil, err
	}

	sec, err := openSecrets(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("path", cfg.DBPath))

	core := orchestrator.New(sec, orchestrator.Config{
		ReasoningDir:      cfg.ReasoningLogDir,
		TechnicalThinking: cfg.QwenThinking,
		EnrichTTL:         cfg.EnrichTTL,
		EnrichMode:        enrich.ModeFromString(cfg.EnrichRelevance),
	}, orchestrator.WithStore(db), orchestrator.WithLogger(logger))

	pools := registerProviders(core, sec, cfg, logger)

	if err := core.SeedStats(context.Background()); err != nil {
		logger.Warn("seed stats", slog.String("error", err.Error()))
	}

	tm := temporal.NewManager(temporal.Config{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		TaskQueue: cfg.TemporalTaskQueue,
	}, &temporal.Activities{
		Engine:   core.Engine(),
		Store:    db,
		Metrics:  core.Metrics(),
		EventBus: core.Events(),
	})
	if tm.Enabled() {
		if err := tm.Start(); err != nil {
			logger.Warn("temporal worker unavailable, deliberations run in process",
				slog.String("error", err.Error()))
		} else {
			logger.Info("temporal worker started",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("task_queue", tm.TaskQueue()))
		}
	}

	limiter := ratelimit.New(cfg.RateRPS, cfg.RateBurst, time.Second,
		ratelimit.WithCounter(core.Metrics().InboundThrottled))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware())
	r.Use(limiter.Middleware)

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Core:     core,
		Temporal: tm,
		Logger:   logger,
	})

	s := &Server{
		cfg:           cfg,
		r:             r,
		core:          core,
		store:         db,
		temporal:      tm,
		limiter:       limiter,
		logger:        logger,
		traceShutdown: traceShutdown,
	}

	if cfg.PreflightInterval > 0 && len(pools) > 0 {
		s.prober = credential.NewProber(pools, cfg.PreflightInterval, logger)
		s.prober.Start()
	}

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Core exposes the orchestrator, for the entrypoint's startup preflight.
func (s *Server) Core() *orchestrator.Orchestrator { return s.core }

// Close releases background workers and storage. Safe to call once after
// the HTTP listener has drained.
func (s *Server) Close() error {
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Warn("tracer shutdown", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func openSecrets(cfg Config) (secrets.Store, error) {
	if cfg.VaultPath != "" {
		return secrets.OpenFileVault(cfg.VaultPath, cfg.VaultPassphrase)
	}
	return secrets.NewEnvStore(), nil
}

// registerProviders wires all three agents. Providers without configured
// keys still register so their requests fail as no_credential data instead
// of an unknown-provider error; they simply get an empty pool.
func registerProviders(core *orchestrator.Orchestrator, sec secrets.Store, cfg Config, logger *slog.Logger) []*credential.Pool {
	client := &http.Client{Transport: tracing.HTTPTransport(nil)}

	adapters := []dispatch.Adapter{
		deepseek.New(deepseek.Config{
			AllowReasoner: cfg.AllowReasoner,
			Client:        client,
			Logger:        logger,
		}),
		qwen.New(qwen.Config{
			Model:         cfg.QwenModel,
			FastModel:     cfg.QwenModelFast,
			PreferFast:    cfg.QwenPreferFast,
			AllowThinking: cfg.QwenThinking,
			Temperature:   cfg.QwenTemperature,
			Client:        client,
			Logger:        logger,
		}),
		perplexity.New(perplexity.Config{
			AllowExpensive: cfg.AllowExpensive,
			Client:         client,
			Logger:         logger,
		}),
	}

	probe := credential.NewHTTPProbe(client, nil)
	var pools []*credential.Pool
	for _, a := range adapters {
		names := credential.DiscoverSecretNames(sec, a.Kind())
		pool := core.RegisterProvider(a, names, credential.WithProbe(probe))
		if len(names) > 0 {
			pools = append(pools, pool)
		}
	}
	return pools
}
