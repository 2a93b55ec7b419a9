// Package main is the entry point for the Verdict BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verdictlabs/verdict/internal/approval"
	"github.com/verdictlabs/verdict/internal/attachment"
	"github.com/verdictlabs/verdict/internal/backend"
	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/internal/observability"
	"github.com/verdictlabs/verdict/internal/refdata"
	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// maxPendingNotifications caps the per-subject toast queue.
const maxPendingNotifications = 100

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "verdict-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load the OpenAPI specs for the backing HR services and index their
	// operations.
	index := backend.NewIndex()
	specSources := buildSpecSources(cfg)
	if err := index.Load(specSources); err != nil {
		logger.Error("backend spec index load failed", zap.Error(err))
		return 1
	}
	for _, src := range specSources {
		metrics.SetOperationsIndexed(src.ServiceID, float64(len(index.AllOperationIDs(src.ServiceID))))
	}

	backendClient := backend.NewClient(index, cfg.Services, backend.WithMetrics(metrics))

	// Approval and reference-data stores share one connection pool.
	approvalStore, refStore, storeCloser, err := buildStores(ctx, cfg.Approvals.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	idempotencyStore, idempotencyCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	var engineOpts []approval.EngineOption
	if idempotencyStore != nil {
		engineOpts = append(engineOpts,
			approval.WithIdempotencyStore(idempotencyStore),
			approval.WithIdempotencyTTL(cfg.Idempotency.Store.DefaultTTL),
		)
	}
	engine := approval.NewEngine(approvalStore, engineOpts...)

	lookups := refdata.NewLookupCache(refStore, cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries,
		refdata.WithLookupObserver(metrics.RecordLookupCacheHit, metrics.RecordLookupCacheMiss))
	refService := refdata.NewService(refStore, lookups)

	uploads := attachment.NewLocalStore()
	resolver := attachment.NewResolver(uploads, backendClient, cfg.Attachments.MaxSizeBytes)

	sessions := session.NewRegistry(session.Options{
		TTL:           cfg.Sessions.TTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		MaxPerSubject: cfg.Sessions.MaxPerSubject,
		OnCount:       func(n int) { metrics.SetActiveSessions(float64(n)) },
		OnEviction:    metrics.RecordSessionEviction,
	})
	defer sessions.Close()

	notifier := notify.NewNotifier(maxPendingNotifications)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	ready := observability.ReadinessChecks{
		BackendIndexLoaded: func() bool {
			for _, src := range specSources {
				if len(index.AllOperationIDs(src.ServiceID)) > 0 {
					return true
				}
			}
			return len(specSources) == 0
		},
	}
	if hc, ok := approvalStore.(observability.HealthChecker); ok {
		ready.ApprovalStore = hc
	}
	if hc, ok := refStore.(observability.HealthChecker); ok {
		ready.RefStore = hc
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		ready.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Ready:        ready,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Engine:       engine,
		Backend:      backendClient,
		Attachments:  resolver,
		Uploads:      uploads,
		RefData:      refService,
		Lookups:      lookups,
		Sessions:     sessions,
		Notifier:     notifier,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("spec_sources", len(specSources)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}
	if idempotencyCloser != nil {
		idempotencyCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSpecSources converts configured spec files to backend sources,
// resolving relative paths against the spec directory and attaching each
// service's base URL.
func buildSpecSources(cfg *config.Config) []backend.SpecSource {
	sources := make([]backend.SpecSource, len(cfg.Specs.Sources))
	for i, s := range cfg.Specs.Sources {
		specPath := s.SpecFile
		if cfg.Specs.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(cfg.Specs.Directory, specPath)
		}
		var baseURL string
		if svc, ok := cfg.Services[s.ServiceID]; ok {
			baseURL = svc.BaseURL
		}
		sources[i] = backend.SpecSource{
			ServiceID: s.ServiceID,
			BaseURL:   baseURL,
			SpecPath:  specPath,
		}
	}
	return sources
}

// buildStores creates the approval and reference-data stores. Both share
// one Postgres pool; without a DSN they fall back to in-memory stores.
func buildStores(
	ctx context.Context,
	cfg config.StoreConfig,
	logger *zap.Logger,
) (approval.Store, refdata.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory approval and reference-data stores")
		return approval.NewMemoryStore(), refdata.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			if cfg.DSNEnv != "" {
				return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
			}
			logger.Warn("store DSN not configured, using in-memory stores")
			return approval.NewMemoryStore(), refdata.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return approval.NewPgStore(pool), refdata.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the decision idempotency store based on
// config. Returns nil when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (approval.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("idempotency redis address not configured, using in-memory store")
			return approval.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		return approval.NewRedisIdempotencyStore(client), func() { client.Close() }
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return approval.NewMemoryIdempotencyStore(), nil
	default:
		logger.Warn("unsupported idempotency store driver, using in-memory store",
			zap.String("driver", cfg.Store.Driver))
		return approval.NewMemoryIdempotencyStore(), nil
	}
}
