package callbacks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/NexusGateway/server/internal/circuitbreaker"
	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/httputil"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/observability"
	"github.com/NexusGateway/server/internal/storage"
)

// Dispatcher posts signed status report callbacks with bounded retries.
// Deliveries run asynchronously; those sharing a UETR are serialized in
// submission order so a later report can never overtake an earlier one.
// Exhausted deliveries are parked in the callback queue for operator
// requeue and the failure is written to the payment's audit trail.
type Dispatcher struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	queue      storage.CallbackQueueStore
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	hooks      *observability.Registry
	store      storage.Store

	locks *lockTable
	wg    sync.WaitGroup
}

// Option customizes the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger for delivery operations.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithQueue enables parking of exhausted deliveries for requeue.
func WithQueue(queue storage.CallbackQueueStore) Option {
	return func(d *Dispatcher) {
		d.queue = queue
	}
}

// WithBreakers wraps deliveries in per-host circuit breakers.
func WithBreakers(breakers *circuitbreaker.Manager) Option {
	return func(d *Dispatcher) {
		d.breakers = breakers
	}
}

// WithMetrics sets the metrics collector for delivery observability.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithHooks publishes delivery outcomes to the hook registry.
func WithHooks(hooks *observability.Registry) Option {
	return func(d *Dispatcher) {
		d.hooks = hooks
	}
}

// WithStore enables audit events for delivered and failed callbacks.
func WithStore(store storage.Store) Option {
	return func(d *Dispatcher) {
		d.store = store
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(d *Dispatcher) {
		d.retryCfg = cfg
	}
}

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = client
	}
}

// RetryConfigFrom derives the retry policy from callback configuration,
// keeping scheme defaults for unset fields.
func RetryConfigFrom(cfg config.CallbacksConfig) RetryConfig {
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	if cfg.AttemptTimeout.Duration > 0 {
		retryCfg.Timeout = cfg.AttemptTimeout.Duration
	}
	return retryCfg
}

// NewDispatcher constructs a callback dispatcher from config.
func NewDispatcher(cfg config.CallbacksConfig, opts ...Option) *Dispatcher {
	retryCfg := RetryConfigFrom(cfg)

	d := &Dispatcher{
		cfg:        cfg,
		retryCfg:   retryCfg,
		httpClient: httputil.NewClient(retryCfg.Timeout),
		logger:     zerolog.Nop(),
		locks:      newLockTable(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// StatusReport dispatches the delivery asynchronously. The inbound
// message is acknowledged before the callback lands, so the delivery
// runs on its own detached context and budget.
func (d *Dispatcher) StatusReport(ctx context.Context, delivery Delivery) {
	if d == nil || delivery.URL == "" {
		return
	}
	if delivery.Secret == "" {
		delivery.Secret = d.cfg.Secret
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		unlock := d.locks.lock(delivery.UETR)
		defer unlock()
		d.deliver(context.Background(), delivery)
	}()
}

// Close waits for in-flight deliveries to drain.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}

// deliver runs the attempt loop with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= d.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, d.retryCfg.Timeout)
		err := d.send(reqCtx, delivery)
		cancel()

		if err == nil {
			if d.metrics != nil {
				d.metrics.ObserveCallback("success", time.Since(start), attempt, false)
			}
			if attempt > 1 {
				d.logger.Info().
					Str("uetr", delivery.UETR).
					Int("attempt", attempt).
					Msg("callbacks: delivery succeeded after retry")
			}
			d.recordEvent(ctx, delivery, storage.EventCallbackDelivered, attempt, "")
			d.hooks.EmitCallbackDelivered(ctx, observability.CallbackDeliveredEvent{
				Timestamp:   time.Now().UTC(),
				UETR:        delivery.UETR,
				URL:         delivery.URL,
				MessageType: delivery.MessageType,
				Status:      delivery.TransactionStatus,
				Attempts:    attempt,
				Duration:    time.Since(start),
			})
			return
		}

		lastErr = err
		d.logger.Warn().
			Err(err).
			Str("uetr", delivery.UETR).
			Int("attempt", attempt).
			Int("maxAttempts", d.retryCfg.MaxAttempts).
			Msg("callbacks: delivery attempt failed")

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if d.metrics != nil {
				d.metrics.ObserveBreakerRejection(hostOf(delivery.URL))
			}
			// An open breaker will not close within the in-line backoff
			// window; park immediately and let the queue redeliver.
			break
		}

		if attempt < d.retryCfg.MaxAttempts {
			time.Sleep(d.retryCfg.backoff(attempt))
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveCallback("failed", time.Since(start), d.retryCfg.MaxAttempts, d.queue != nil)
	}
	d.logger.Error().
		Err(lastErr).
		Str("uetr", delivery.UETR).
		Str("url", delivery.URL).
		Msg("callbacks: delivery failed after all attempts")

	errMsg := "delivery failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	d.recordEvent(ctx, delivery, storage.EventCallbackFailed, d.retryCfg.MaxAttempts, errMsg)
	d.hooks.EmitCallbackFailed(ctx, observability.CallbackFailedEvent{
		Timestamp:   time.Now().UTC(),
		UETR:        delivery.UETR,
		URL:         delivery.URL,
		MessageType: delivery.MessageType,
		Attempts:    d.retryCfg.MaxAttempts,
		Error:       errMsg,
	})
	d.park(ctx, delivery, errMsg)
}

// send performs one attempt, routed through the destination's breaker.
func (d *Dispatcher) send(ctx context.Context, delivery Delivery) error {
	fn := func() (interface{}, error) {
		return nil, d.post(ctx, delivery)
	}
	if d.breakers != nil {
		_, err := d.breakers.Execute(hostOf(delivery.URL), fn)
		return err
	}
	_, err := fn()
	return err
}

// post signs and sends the HTTP request for one attempt.
func (d *Dispatcher) post(ctx context.Context, delivery Delivery) error {
	req, err := signedRequest(ctx, delivery, time.Now())
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if !DeliveredStatus(resp.StatusCode) {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, delivery.URL)
	}

	return nil
}

// recordEvent appends a delivery outcome to the payment's audit trail.
func (d *Dispatcher) recordEvent(ctx context.Context, delivery Delivery, eventType string, attempts int, errMsg string) {
	if d.store == nil {
		return
	}

	data := map[string]string{
		"url":               delivery.URL,
		"transactionStatus": delivery.TransactionStatus,
		"attempts":          strconv.Itoa(attempts),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}

	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		UETR:      delivery.UETR,
		EventType: eventType,
		Actor:     "gateway",
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}}
	if err := d.store.RecordMessage(ctx, rec); err != nil {
		d.logger.Error().
			Err(err).
			Str("uetr", delivery.UETR).
			Msg("callbacks: failed to record delivery event")
	}
}

// park saves an exhausted delivery to the callback queue.
func (d *Dispatcher) park(ctx context.Context, delivery Delivery, errMsg string) {
	if d.queue == nil {
		return
	}

	now := time.Now().UTC()
	id, err := d.queue.Enqueue(ctx, storage.QueuedCallback{
		UETR:              delivery.UETR,
		URL:               delivery.URL,
		MessageType:       delivery.MessageType,
		TransactionStatus: delivery.TransactionStatus,
		Payload:           delivery.Payload,
		Secret:            delivery.Secret,
		Status:            storage.CallbackStatusFailed,
		Attempts:          d.retryCfg.MaxAttempts,
		MaxAttempts:       d.retryCfg.MaxAttempts,
		LastError:         errMsg,
		LastAttemptAt:     now,
		CreatedAt:         now,
	})
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("uetr", delivery.UETR).
			Msg("callbacks: failed to park delivery")
		return
	}

	d.logger.Info().
		Str("callbackId", id).
		Str("uetr", delivery.UETR).
		Int("attempts", d.retryCfg.MaxAttempts).
		Msg("callbacks: parked delivery for requeue")
	d.hooks.EmitCallbackParked(ctx, observability.CallbackParkedEvent{
		Timestamp:  now,
		CallbackID: id,
		UETR:       delivery.UETR,
		URL:        delivery.URL,
		Error:      errMsg,
	})
}
