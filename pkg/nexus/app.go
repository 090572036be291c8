// Package nexus assembles the payment gateway for embedding or
// standalone serving. NewApp wires the stores, the validation pipeline,
// the quote engine, the callback dispatcher, and the HTTP surface from
// one config; cmd/gateway is a thin shell around it.
package nexus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/circuitbreaker"
	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/dbpool"
	"github.com/NexusGateway/server/internal/dedup"
	"github.com/NexusGateway/server/internal/fxp"
	"github.com/NexusGateway/server/internal/httpserver"
	"github.com/NexusGateway/server/internal/idempotency"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/lifecycle"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/monitoring"
	"github.com/NexusGateway/server/internal/observability"
	"github.com/NexusGateway/server/internal/payments"
	"github.com/NexusGateway/server/internal/quotes"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/internal/storage"
)

// shutdownGrace bounds the drain window for in-flight requests when Run
// stops the listener.
const shutdownGrace = 30 * time.Second

// App wires the gateway components for reuse or standalone serving.
type App struct {
	Config           *config.Config
	Store            storage.Store
	Queue            storage.CallbackQueueStore
	Notifier         callbacks.Notifier
	Schemas          *iso20022.SchemaSet
	Payments         *payments.Service
	Quotes           *quotes.Service
	Actors           *registry.Service
	Hooks            *observability.Registry
	Monitor          *monitoring.StoreMonitor
	IdempotencyStore *idempotency.MemoryStore

	logger           zerolog.Logger
	router           chi.Router
	resources        *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.Store
	queue    storage.CallbackQueueStore
	notifier callbacks.Notifier
	router   chi.Router
	logger   *zerolog.Logger
}

// WithStore sets a custom payment store backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithQueue sets a custom callback dead-letter queue backend.
func WithQueue(queue storage.CallbackQueueStore) Option {
	return func(o *options) {
		o.queue = queue
	}
}

// WithNotifier replaces the callback dispatcher, mainly for tests.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithRouter registers the gateway routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithLogger overrides the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// NewApp assembles the gateway services for embedding. Injected
// backends are owned by the caller; everything the app creates itself
// is released by Close.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nexus: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "nexus-gateway",
		Environment: cfg.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	app := &App{
		Config:    cfg,
		logger:    appLogger,
		resources: lifecycle.NewManager(appLogger),
	}

	// A gateway that cannot validate must not start.
	schemas, err := iso20022.LoadDir(cfg.Schemas.Dir)
	if err != nil {
		return nil, fmt.Errorf("load ISO 20022 schemas: %w", err)
	}
	app.Schemas = schemas

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector

	// Postgres deployments share one pool across the store, the callback
	// queue, and the rate book and actor repositories.
	var sharedDB *sql.DB
	if postgresConfigured(cfg.Storage) && (optState.store == nil || optState.queue == nil) {
		pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		app.resources.Register("postgres-pool", pool)
		sharedDB = pool.DB()
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStoreWithDB(cfg.Storage, sharedDB)
		if err != nil {
			app.resources.Close()
			return nil, fmt.Errorf("init payment store: %w", err)
		}
		app.Store = store
		app.resources.Register("payment-store", store)
		if _, inMemory := store.(*storage.MemoryStore); inMemory {
			appLogger.Warn().
				Msg("nexus: payment store is in-memory, the audit trail will not survive a restart")
		}
	}

	if optState.queue != nil {
		app.Queue = optState.queue
	} else {
		queue, err := storage.NewCallbackQueueStore(cfg.Storage, sharedDB)
		if err != nil {
			app.resources.Close()
			return nil, fmt.Errorf("init callback queue: %w", err)
		}
		app.Queue = queue
		app.resources.Register("callback-queue", queue)
	}

	rates, err := fxp.NewRepositoryWithDB(cfg.FXP, sharedPoolFor(cfg.FXP.PostgresURL, cfg.Storage, sharedDB), metricsCollector)
	if err != nil {
		app.resources.Close()
		return nil, fmt.Errorf("init rate book: %w", err)
	}
	app.resources.Register("rate-book", rates)

	actorRepo, err := registry.NewRepositoryWithDB(cfg.Registry, sharedPoolFor(cfg.Registry.PostgresURL, cfg.Storage, sharedDB), metricsCollector)
	if err != nil {
		app.resources.Close()
		return nil, fmt.Errorf("init actor registry: %w", err)
	}
	app.resources.Register("actor-registry", actorRepo)

	app.Hooks = observability.NewRegistry(appLogger)
	loggingHook := observability.NewLoggingHook(appLogger)
	app.Hooks.RegisterMessageHook(loggingHook)
	app.Hooks.RegisterCallbackHook(loggingHook)
	app.Hooks.RegisterQuoteHook(loggingHook)

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		if cfg.UsingDefaultCallbackSecret() {
			appLogger.Warn().
				Msg("nexus: callbacks signed with the development fallback secret, set NEXUS_CALLBACK_SECRET")
		} else {
			// The mask keeps the secret out of the logs but still
			// flags one that is too short to sign with.
			appLogger.Info().
				Str("secret", logger.MaskSecret(cfg.Callbacks.Secret)).
				Msg("nexus: callback signing secret configured")
		}

		dispatcherOpts := []callbacks.Option{
			callbacks.WithLogger(appLogger),
			callbacks.WithMetrics(metricsCollector),
			callbacks.WithStore(app.Store),
			callbacks.WithHooks(app.Hooks),
		}
		if cfg.Callbacks.QueueEnabled {
			dispatcherOpts = append(dispatcherOpts, callbacks.WithQueue(app.Queue))
		}
		if cfg.Callbacks.CircuitBreaker.Enabled {
			dispatcherOpts = append(dispatcherOpts,
				callbacks.WithBreakers(circuitbreaker.NewManagerFromConfig(cfg.Callbacks.CircuitBreaker)))
		}

		dispatcher := callbacks.NewDispatcher(cfg.Callbacks, dispatcherOpts...)
		app.Notifier = dispatcher
		app.resources.Register("callback-dispatcher", dispatcher)
	}

	// The worker redelivers parked and operator-requeued callbacks.
	if cfg.Callbacks.QueueEnabled {
		worker := callbacks.NewQueueWorker(callbacks.QueueWorkerOptions{
			Queue:        app.Queue,
			RetryConfig:  callbacks.RetryConfigFrom(cfg.Callbacks),
			Logger:       appLogger,
			Metrics:      metricsCollector,
			PollInterval: cfg.Callbacks.QueuePollInterval.Duration,
		})
		worker.Start(context.Background())
		app.resources.RegisterFunc("callback-queue-worker", func() error {
			worker.Stop()
			return nil
		})
	}

	dedupCache := dedup.New()
	app.resources.RegisterFunc("dedup-cache", func() error {
		dedupCache.Stop()
		return nil
	})

	app.Actors = registry.NewService(cfg, actorRepo)
	app.Quotes = quotes.NewService(cfg, app.Store, rates, metricsCollector)
	app.Payments = payments.NewService(cfg, app.Store, schemas, actorRepo, app.Notifier, dedupCache, metricsCollector)

	app.Monitor = monitoring.NewStoreMonitor(cfg.Monitoring, app.Store,
		monitoring.WithLogger(appLogger),
		monitoring.WithMetrics(metricsCollector),
	)
	app.Monitor.Start(context.Background())
	app.resources.RegisterFunc("store-monitor", func() error {
		app.Monitor.Stop()
		return nil
	})

	// Shared idempotency store for the JSON create endpoints.
	app.IdempotencyStore = idempotency.NewMemoryStore()
	app.resources.RegisterFunc("idempotency-store", func() error {
		app.IdempotencyStore.Stop()
		return nil
	})

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, cfg, app.Payments, app.Quotes, app.Actors, app.Store, app.Queue, app.Monitor, schemas, app.Hooks, app.IdempotencyStore, metricsCollector, appLogger)

	return app, nil
}

// postgresConfigured mirrors the storage package's backend selection so
// the shared pool only opens when the store will actually use it.
func postgresConfigured(cfg config.StorageConfig) bool {
	return cfg.Backend == "postgres" || (cfg.Backend == "" && cfg.PostgresURL != "")
}

// sharedPoolFor hands the shared pool to a repository that reads the
// same database as the payment store. A repository configured with a
// different URL opens its own connection.
func sharedPoolFor(repoURL string, cfg config.StorageConfig, sharedDB *sql.DB) *sql.DB {
	if sharedDB == nil {
		return nil
	}
	if repoURL == "" || repoURL == cfg.PostgresURL {
		return sharedDB
	}
	return nil
}

// Run serves the gateway until ctx is cancelled, then drains in-flight
// requests and releases the app's resources.
func (a *App) Run(ctx context.Context) error {
	srv := httpserver.New(a.Config, a.router)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("address", a.Config.Server.Address).
			Str("environment", a.Config.Environment).
			Int("schemas", len(a.Schemas.Types())).
			Msg("nexus: gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.Close()
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("nexus: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("nexus: listener stopped with connections still open")
	}

	return a.Close()
}

// Router returns the chi router with the gateway routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Logger returns the app's logger for callers that want to share it.
func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// Close releases resources owned by the app in reverse construction
// order. Injected stores and queues are left open.
func (a *App) Close() error {
	return a.resources.Close()
}

// RegisterRoutes attaches the gateway endpoints to the provided router
// using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}

	collector := app.metricsCollector
	if collector == nil {
		collector = metrics.New(prometheus.DefaultRegisterer)
	}

	var idem idempotency.Store
	if app.IdempotencyStore != nil {
		idem = app.IdempotencyStore
	}

	httpserver.ConfigureRouter(router, app.Config, app.Payments, app.Quotes, app.Actors, app.Store, app.Queue, app.Monitor, app.Schemas, app.Hooks, idem, collector, app.logger)
}

// NewHandler is a convenience that constructs an App and returns its
// handler plus a shutdown function.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the
// gateway.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
