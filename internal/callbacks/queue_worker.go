package callbacks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/NexusGateway/server/internal/httputil"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/storage"
)

// QueueWorker redelivers callbacks from the persistent queue. It picks
// up entries an operator requeued (and any still pending after a crash),
// attempts them once per claim and reschedules with exponential backoff
// until MaxAttempts, after which the entry parks as failed again.
type QueueWorker struct {
	queue        storage.CallbackQueueStore
	retryCfg     RetryConfig
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	stopChan     chan struct{}
	doneChan     chan struct{}
	pollInterval time.Duration
}

// QueueWorkerOptions configures the callback queue worker.
type QueueWorkerOptions struct {
	Queue        storage.CallbackQueueStore
	RetryConfig  RetryConfig
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	PollInterval time.Duration // How often to poll for pending entries (default: 5s)
}

// NewQueueWorker creates a new callback queue worker.
func NewQueueWorker(opts QueueWorkerOptions) *QueueWorker {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RetryConfig.Timeout == 0 {
		opts.RetryConfig = DefaultRetryConfig()
	}
	if opts.Logger.GetLevel() == zerolog.Disabled {
		opts.Logger = zerolog.Nop()
	}

	return &QueueWorker{
		queue:        opts.Queue,
		retryCfg:     opts.RetryConfig,
		httpClient:   httputil.NewClient(opts.RetryConfig.Timeout),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		pollInterval: opts.PollInterval,
	}
}

// Start begins processing entries from the queue.
func (w *QueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker.
func (w *QueueWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// run is the main worker loop that polls the queue.
func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("pollInterval", w.pollInterval).
		Msg("callback queue worker started")

	for {
		select {
		case <-w.stopChan:
			w.logger.Info().Msg("callback queue worker stopping")
			return
		case <-ticker.C:
			w.processQueue(ctx)
			w.updateQueueDepth(ctx)
		}
	}
}

// processQueue claims and attempts due entries.
func (w *QueueWorker) processQueue(ctx context.Context) {
	// Claim up to 10 entries per poll
	entries, err := w.queue.Claim(ctx, 10)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to claim queued callbacks")
		return
	}

	if len(entries) == 0 {
		return
	}

	w.logger.Debug().Int("count", len(entries)).Msg("redelivering callbacks from queue")

	for _, entry := range entries {
		w.processEntry(ctx, entry)
	}
}

// processEntry performs a single redelivery attempt for a claimed entry.
func (w *QueueWorker) processEntry(ctx context.Context, entry storage.QueuedCallback) {
	startTime := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, w.retryCfg.Timeout)
	err := w.sendCallback(reqCtx, entry)
	cancel()

	duration := time.Since(startTime)

	if err == nil {
		if markErr := w.queue.MarkSuccess(ctx, entry.ID); markErr != nil {
			w.logger.Error().
				Err(markErr).
				Str("callbackId", entry.ID).
				Msg("failed to mark callback as delivered")
		}

		if w.metrics != nil {
			w.metrics.ObserveCallback("requeued_success", duration, entry.Attempts, false)
		}

		w.logger.Info().
			Str("callbackId", entry.ID).
			Str("uetr", entry.UETR).
			Int("attempts", entry.Attempts).
			Dur("duration", duration).
			Msg("queued callback delivered")

		return
	}

	w.handleFailure(ctx, entry, err)
}

// handleFailure schedules another attempt or parks the entry as failed.
func (w *QueueWorker) handleFailure(ctx context.Context, entry storage.QueuedCallback, deliveryErr error) {
	exhausted := entry.MaxAttempts > 0 && entry.Attempts >= entry.MaxAttempts

	var nextAttemptAt time.Time
	if !exhausted {
		nextAttemptAt = time.Now().Add(w.retryCfg.backoff(entry.Attempts))
	}

	if err := w.queue.MarkFailed(ctx, entry.ID, deliveryErr.Error(), nextAttemptAt); err != nil {
		w.logger.Error().
			Err(err).
			Str("callbackId", entry.ID).
			Msg("failed to mark callback as failed")
		return
	}

	if exhausted {
		if w.metrics != nil {
			w.metrics.ObserveCallback("requeued_failed", time.Since(entry.CreatedAt), entry.Attempts, true)
		}

		w.logger.Warn().
			Str("callbackId", entry.ID).
			Str("uetr", entry.UETR).
			Int("attempts", entry.Attempts).
			Err(deliveryErr).
			Msg("queued callback parked after exhausting attempts")
	} else {
		w.logger.Warn().
			Str("callbackId", entry.ID).
			Str("uetr", entry.UETR).
			Int("attempts", entry.Attempts).
			Time("nextAttempt", nextAttemptAt).
			Err(deliveryErr).
			Msg("queued callback failed, rescheduled")
	}
}

// sendCallback signs and posts one redelivery.
func (w *QueueWorker) sendCallback(ctx context.Context, entry storage.QueuedCallback) error {
	delivery := Delivery{
		UETR:              entry.UETR,
		URL:               entry.URL,
		MessageType:       entry.MessageType,
		TransactionStatus: entry.TransactionStatus,
		Payload:           entry.Payload,
		Secret:            entry.Secret,
	}

	req, err := signedRequest(ctx, delivery, time.Now())
	if err != nil {
		return err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if !DeliveredStatus(resp.StatusCode) {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, entry.URL)
	}

	return nil
}

// updateQueueDepth refreshes the parked-entry gauge.
func (w *QueueWorker) updateQueueDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}

	parked, err := w.queue.List(ctx, storage.CallbackStatusFailed, 1000)
	if err != nil {
		return
	}
	w.metrics.SetCallbackQueueDepth(len(parked))
}
