// Package httpserver exposes the gateway's HTTP surface: ISO 20022
// ingestion, the quote API, the participant registry, the payment audit
// views, and the operational endpoints. Handlers translate between HTTP
// and the services; business rules live behind them.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/NexusGateway/server/internal/apikey"
	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/idempotency"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/monitoring"
	"github.com/NexusGateway/server/internal/observability"
	"github.com/NexusGateway/server/internal/payments"
	"github.com/NexusGateway/server/internal/quotes"
	"github.com/NexusGateway/server/internal/ratelimit"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/internal/storage"
	"github.com/NexusGateway/server/internal/versioning"
)

var (
	serverStartTime = time.Now()
)

// Server wraps the gateway's HTTP listener with the configured timeouts.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	payments *payments.Service
	quotes   *quotes.Service
	actors   *registry.Service
	store    storage.Store
	queue    storage.CallbackQueueStore
	monitor  *monitoring.StoreMonitor
	schemas  *iso20022.SchemaSet
	hooks    *observability.Registry
	logger   zerolog.Logger
}

// New wraps an already configured handler in the gateway's listener.
// Route wiring happens in ConfigureRouter; callers hand the resulting
// router here.
func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      handler,
		},
	}
}

// ConfigureRouter attaches the gateway routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, paymentsSvc *payments.Service, quotesSvc *quotes.Service, actorsSvc *registry.Service, store storage.Store, queue storage.CallbackQueueStore, monitor *monitoring.StoreMonitor, schemas *iso20022.SchemaSet, hooks *observability.Registry, idemStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:      cfg,
		payments: paymentsSvc,
		quotes:   quotesSvc,
		actors:   actorsSvc,
		store:    store,
		queue:    queue,
		monitor:  monitor,
		schemas:  schemas,
		hooks:    hooks,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// API version negotiation middleware (adds version to context from Accept header)
	router.Use(versioning.Negotiation)

	// Cap request bodies before any handler reads them. ISO 20022
	// documents are small; anything near the cap is garbage or abuse.
	router.Use(maxBodyBytes(cfg.Server.MaxBodyBytes))

	// Rate limiting middleware, keyed by client IP and first path segment
	router.Use(ratelimit.Middleware(ratelimit.FromConfig(cfg, metricsCollector)))

	// NOTE: Timeout middleware is applied selectively per route group below
	// to avoid imposing the processing timeout on lightweight endpoints

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout (health, discovery, documentation, metrics)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Get("/.well-known/nexus-gateway", handler.wellKnownGateway)
		r.Get("/openapi.json", handler.openAPISpec)
		r.Get("/docs", handler.docsPage)
		r.Handle("/metrics", promhttp.Handler())
	})

	// Admin routes require the configured API key; an empty key leaves
	// them open, which only sandbox deployments should do.
	adminKey := apikey.Middleware(apikey.Config{APIKey: cfg.Admin.APIKey})

	// JSON create endpoints honor Idempotency-Key when a store is wired.
	// ISO 20022 ingestion has its own replay protection keyed on UETR.
	idempotent := func(next http.Handler) http.Handler { return next }
	if idemStore != nil {
		idempotent = idempotency.Middleware(idemStore, idempotency.DefaultTTL)
	}

	// Processing endpoints with 60s timeout (store writes, synchronous callbacks)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// API v1 - ISO 20022 ingestion
		r.Post(prefix+"/v1/iso20022/pacs008", handler.submitPaymentInstruction)
		r.Post(prefix+"/v1/iso20022/pacs002", handler.submitStatusReport)
		r.Post(prefix+"/v1/iso20022/acmt023", handler.submitProxyRequest)
		r.Post(prefix+"/v1/iso20022/acmt024", handler.submitProxyReport)
		r.Post(prefix+"/v1/iso20022/pain001", handler.submitMessage(iso20022.MsgPain001))
		r.Post(prefix+"/v1/iso20022/camt103", handler.submitMessage(iso20022.MsgCamt103))
		r.Post(prefix+"/v1/iso20022/camt054", handler.submitMessage(iso20022.MsgCamt054))
		r.Post(prefix+"/v1/iso20022/pacs004", handler.submitMessage(iso20022.MsgPacs004))
		r.Post(prefix+"/v1/iso20022/pacs028", handler.submitMessage(iso20022.MsgPacs028))
		r.Post(prefix+"/v1/iso20022/camt056", handler.submitMessage(iso20022.MsgCamt056))
		r.Post(prefix+"/v1/iso20022/camt029", handler.submitMessage(iso20022.MsgCamt029))
		r.Post(prefix+"/v1/iso20022/validate", handler.validateDocument)

		// API v1 - Quotes and disclosure
		r.With(idempotent).Post(prefix+"/v1/quotes", handler.createQuote)
		r.Get(prefix+"/v1/quotes/{quoteId}", handler.getQuote)
		r.Get(prefix+"/v1/quotes/{quoteId}/intermediary-agents", handler.quoteIntermediaryAgents)
		r.Get(prefix+"/v1/pre-transaction-disclosure", handler.preTransactionDisclosure)

		// API v1 - Participant registry
		r.With(idempotent).Post(prefix+"/v1/actors", handler.registerActor)
		r.Get(prefix+"/v1/actors", handler.listActors)
		r.Get(prefix+"/v1/actors/{actorId}", handler.getActor)
		r.Post(prefix+"/v1/actors/{actorId}/rotate-secret", handler.rotateActorSecret)
		r.Post(prefix+"/v1/actors/{actorId}/test-callback", handler.testActorCallback)

		// API v1 - Payment audit views
		r.Get(prefix+"/v1/payments", handler.listPayments)
		r.Get(prefix+"/v1/payments/{uetr}/events", handler.paymentEvents)
		r.Get(prefix+"/v1/payments/{uetr}/messages", handler.paymentMessages)
		r.Get(prefix+"/v1/payments/{uetr}/status", handler.paymentStatus)

		// API v1 - Callback dead-letter queue administration
		r.With(adminKey).Get(prefix+"/v1/admin/callbacks/failed", handler.listFailedCallbacks)
		r.With(adminKey).Get(prefix+"/v1/admin/callbacks/{callbackId}", handler.getCallback)
		r.With(adminKey).Post(prefix+"/v1/admin/callbacks/{callbackId}/requeue", handler.requeueCallback)
		r.With(adminKey).Delete(prefix+"/v1/admin/callbacks/{callbackId}", handler.deleteCallback)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
