package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/api"
	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/analyzer"
	"github.com/nova-gateway/gateway/internal/infra/auth"
	"github.com/nova-gateway/gateway/internal/infra/cache"
	"github.com/nova-gateway/gateway/internal/infra/metrics"
	"github.com/nova-gateway/gateway/internal/infra/ratelimit"
	"github.com/nova-gateway/gateway/internal/infra/registry"
	"github.com/nova-gateway/gateway/internal/infra/router"
	"github.com/nova-gateway/gateway/internal/infra/sqlite"
	"github.com/nova-gateway/gateway/internal/infra/training"
	"github.com/nova-gateway/gateway/internal/infra/workerclient"
	"github.com/nova-gateway/gateway/internal/security"
)

// Daemon is the gateway runtime: it owns every C1-C10 component and the
// HTTP server that fronts them.
type Daemon struct {
	Config Config
	Log    zerolog.Logger

	DB         *sqlite.DB
	Registry   *registry.Registry
	Client     *workerclient.Client
	Analyzer   *analyzer.Analyzer
	Cache      *cache.Cache
	RateLimit  *ratelimit.Limiter
	Auth       *auth.Store
	Router     *router.Router
	Metrics    *metrics.Aggregator
	Supervisor *training.Supervisor
	Server     *api.Server

	// IssuedKeys maps principal username to its freshly-minted API key,
	// printed once at startup so an operator can use the gateway.
	IssuedKeys map[string]string

	cancel context.CancelFunc
}

// New builds a Daemon from the config at $GATEWAY_HOME/config.toml (or
// defaults, if absent).
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Daemon from an explicit Config, wiring every
// component in dependency order: metrics first (a sink with no
// back-edges), then storage, then the domain components, then the
// composing router and training supervisor, and finally the API server.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	dataDir := GatewayHome()
	db, err := sqlite.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	catalogue := make([]domain.Worker, 0, len(cfg.Workers.Catalogue))
	domainToWorker := make(map[domain.Domain]string, len(domain.Domains))
	for _, entry := range cfg.Workers.Catalogue {
		w := domain.Worker{Name: entry.Name, Port: entry.Port, Domain: domain.Domain(entry.Domain)}
		catalogue = append(catalogue, w)
		domainToWorker[w.Domain] = w.Name
	}

	reg := registry.New(
		log, m, catalogue,
		time.Duration(cfg.Workers.ProbeIntervalS)*time.Second,
		time.Duration(cfg.Workers.ProbeTimeoutS)*time.Second,
	)

	client := workerclient.New(
		time.Duration(cfg.Workers.DefaultInferenceTimeoutS)*time.Second,
		time.Duration(cfg.Workers.SynthesisTimeoutS)*time.Second,
	)

	an := analyzer.New(domainToWorker)
	c := cache.New(cfg.Cache.Enabled, time.Duration(cfg.Cache.TTLS)*time.Second, cfg.Cache.Capacity)
	rl := ratelimit.New(cfg.RateLim.Base, float64(cfg.RateLim.WindowS), cfg.TierMultipliers())

	secret, err := security.LoadOrCreateSecret(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load token secret: %w", err)
	}

	principals := make([]domain.Principal, 0, len(cfg.Principals))
	issuedKeys := make(map[string]string, len(cfg.Principals))
	for _, entry := range cfg.Principals {
		key, err := security.GenerateAPIKey()
		if err != nil {
			return nil, fmt.Errorf("generate api key for %s: %w", entry.Username, err)
		}
		p := domain.Principal{
			Username: entry.Username,
			Email:    entry.Email,
			Tier:     domain.Tier(entry.Tier),
			APIKey:   key,
		}
		principals = append(principals, p)
		issuedKeys[entry.Username] = key
	}
	authStore := auth.New(secret, principals)

	rt := router.New(log, reg, client, an, c, m)

	supervisor := training.New(
		log, training.NewTestModeExecutor(), reg, m, cfg.Training.Phases, cfg.Training.WorkspaceDir,
	)

	srv := api.NewServer(api.Dependencies{
		Log:         log,
		Router:      rt,
		Auth:        authStore,
		RateLimiter: rl,
		Metrics:     m,
		Gatherer:    promReg,
		Supervisor:  supervisor,
		Registry:    reg,
		Audit:       &auditAdapter{db: db},
		TokenTTL:    time.Duration(cfg.Auth.TokenLifetimeS) * time.Second,
		CORSOrigins: cfg.API.CORSOrigins,
	})

	return &Daemon{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Registry:   reg,
		Client:     client,
		Analyzer:   an,
		Cache:      c,
		RateLimit:  rl,
		Auth:       authStore,
		Router:     rt,
		Metrics:    m,
		Supervisor: supervisor,
		Server:     srv,
		IssuedKeys: issuedKeys,
	}, nil
}

// Serve starts the worker probe loop and the HTTP server, and blocks until
// the server shuts down (on signal, on ctx cancellation, or on error).
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Registry.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long enough for a full fan-out + synthesis
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		cancel() // stop the probe loop
		for _, job := range d.Supervisor.ListJobs() {
			_ = d.Supervisor.Cancel(job.Key) // jobs that are not running return an error, ignored
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	d.Log.Info().Str("addr", addr).Msg("gateway serving")
	for username, key := range d.IssuedKeys {
		d.Log.Info().Str("principal", username).Str("api_key", key).Msg("issued api key")
	}

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases daemon resources without waiting for a signal. Safe to
// call after Serve has returned.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// newLogger builds a zerolog.Logger from LoggingConfig: console output on
// stdout at the level the operator configured. LoggingConfig.File is not
// read; nothing is written to a log file.
func newLogger(cfg LoggingConfig) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// auditAdapter satisfies api.AuditLog over the concrete sqlite store,
// keeping the api package's dependency on storage to an interface it
// defines itself.
type auditAdapter struct {
	db *sqlite.DB
}

func (a *auditAdapter) RecordRequest(e api.AuditEntry) error {
	return a.db.RecordRequest(sqlite.AuditEntry{
		RequestID:  e.RequestID,
		Principal:  e.Principal,
		Endpoint:   e.Endpoint,
		StatusCode: e.StatusCode,
		LatencyMs:  e.LatencyMs,
		At:         e.At,
	})
}

func (a *auditAdapter) Stats(since time.Time) (api.AuditStats, error) {
	s, err := a.db.Stats(since)
	if err != nil {
		return api.AuditStats{}, err
	}
	return api.AuditStats{
		TotalRequests:  s.TotalRequests,
		ErrorCount:     s.ErrorCount,
		AvgLatencyMs:   s.AvgLatencyMs,
		RequestsByUser: s.RequestsByUser,
	}, nil
}
