// Package monitoring runs the background store health check. The health
// endpoint reports the cached result instead of pinging the backend on
// every probe, so a flood of readiness checks cannot pile load onto a
// struggling database.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/storage"
)

// StoreStatus is the cached outcome of the most recent ping.
type StoreStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// StoreMonitor pings the payment store on a fixed interval and caches
// the result for the health endpoint and the store_up gauge.
type StoreMonitor struct {
	store    storage.Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	status StoreStatus

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a StoreMonitor.
type Option func(*StoreMonitor)

// WithLogger sets the monitor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *StoreMonitor) {
		m.logger = logger.With().Str("component", "store_monitor").Logger()
	}
}

// WithMetrics publishes ping outcomes to the store_up gauge.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *StoreMonitor) {
		m.metrics = mx
	}
}

// NewStoreMonitor builds a monitor over the given store. The store
// constructor has already verified connectivity, so the cached status
// starts healthy and the first ping runs as soon as Start is called.
func NewStoreMonitor(cfg config.MonitoringConfig, store storage.Store, opts ...Option) *StoreMonitor {
	m := &StoreMonitor{
		store:    store,
		logger:   zerolog.Nop(),
		interval: cfg.CheckInterval.Duration,
		timeout:  cfg.Timeout.Duration,
		status:   StoreStatus{Healthy: true, CheckedAt: time.Now().UTC()},
		stopCh:   make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.timeout <= 0 {
		m.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the ping loop.
func (m *StoreMonitor) Start(ctx context.Context) {
	m.logger.Info().
		Dur("check_interval", m.interval).
		Dur("timeout", m.timeout).
		Msg("store_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop halts the loop and waits for the in-flight ping to finish.
func (m *StoreMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("store_monitor.stopped")
}

// Status returns the cached outcome of the latest ping.
func (m *StoreMonitor) Status() StoreStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *StoreMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *StoreMonitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.store.Ping(pingCtx)
	now := time.Now().UTC()

	status := StoreStatus{Healthy: err == nil, CheckedAt: now}
	if err != nil {
		status.Error = err.Error()
		m.logger.Error().Err(err).Msg("store_monitor.ping_failed")
	} else {
		m.logger.Debug().Msg("store_monitor.ping_ok")
	}

	if m.metrics != nil {
		m.metrics.SetStoreHealthy(err == nil)
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
