package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}

	// Verify all metrics are initialized
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal should be initialized")
	}
	if m.MessageDuration == nil {
		t.Error("MessageDuration should be initialized")
	}
	if m.ValidationFailures == nil {
		t.Error("ValidationFailures should be initialized")
	}
	if m.PaymentsTotal == nil {
		t.Error("PaymentsTotal should be initialized")
	}
	if m.QuotesCreatedTotal == nil {
		t.Error("QuotesCreatedTotal should be initialized")
	}
	if m.CallbacksTotal == nil {
		t.Error("CallbacksTotal should be initialized")
	}
	if m.CallbackQueueDepth == nil {
		t.Error("CallbackQueueDepth should be initialized")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestObserveMessage(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveMessage("pacs.008.001.13", "accepted", 20*time.Millisecond)
	m.ObserveMessage("pacs.008.001.13", "rejected", 5*time.Millisecond)

	accepted := promtest.ToFloat64(m.MessagesTotal.WithLabelValues("pacs.008.001.13", "accepted"))
	if accepted != 1 {
		t.Errorf("expected 1 accepted message, got %.0f", accepted)
	}

	rejected := promtest.ToFloat64(m.MessagesTotal.WithLabelValues("pacs.008.001.13", "rejected"))
	if rejected != 1 {
		t.Errorf("expected 1 rejected message, got %.0f", rejected)
	}
}

func TestObserveValidationFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveValidationFailure("pacs.008.001.13", "schema")

	count := promtest.ToFloat64(m.ValidationFailures.WithLabelValues("pacs.008.001.13", "schema"))
	if count != 1 {
		t.Errorf("expected 1 validation failure, got %.0f", count)
	}
}

func TestObservePaymentStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		reason     string
		wantReason string
	}{
		{name: "accepted without reason", status: "ACCEPTED", reason: "", wantReason: "none"},
		{name: "rejected with reason code", status: "REJECTED", reason: "AB04", wantReason: "AB04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObservePaymentStatus(tt.status, tt.reason)

			count := promtest.ToFloat64(m.PaymentsTotal.WithLabelValues(tt.status, tt.wantReason))
			if count != 1 {
				t.Errorf("expected 1 payment with status %s/%s, got %.0f", tt.status, tt.wantReason, count)
			}
		})
	}
}

func TestObserveQuoteMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveQuoteCreated("SGD", "THB")
	m.ObserveQuoteLookup("hit")
	m.ObserveQuoteLookup("expired")

	created := promtest.ToFloat64(m.QuotesCreatedTotal.WithLabelValues("SGD", "THB"))
	if created != 1 {
		t.Errorf("expected 1 quote created, got %.0f", created)
	}

	expired := promtest.ToFloat64(m.QuoteLookupsTotal.WithLabelValues("expired"))
	if expired != 1 {
		t.Errorf("expected 1 expired lookup, got %.0f", expired)
	}
}

func TestObserveCallback(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	// First attempt succeeds
	m.ObserveCallback("success", 500*time.Millisecond, 1, false)

	delivered := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues("success"))
	if delivered != 1 {
		t.Errorf("expected 1 delivered callback, got %.0f", delivered)
	}

	// Exhausted after 3 attempts and parked
	m.ObserveCallback("failed", 7*time.Second, 3, true)

	// Retries are only recorded when attempt > 1
	retries := promtest.ToFloat64(m.CallbackRetriesTotal.WithLabelValues("3"))
	if retries != 1 {
		t.Errorf("expected 1 retry record, got %.0f", retries)
	}

	dlq := promtest.ToFloat64(m.CallbackDLQTotal)
	if dlq != 1 {
		t.Errorf("expected 1 callback in DLQ, got %.0f", dlq)
	}
}

func TestCallbackQueueDepth(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SetCallbackQueueDepth(4)

	depth := promtest.ToFloat64(m.CallbackQueueDepth)
	if depth != 4 {
		t.Errorf("expected queue depth 4, got %.0f", depth)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("/quotes")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("/quotes"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("record_message", "postgres", 50*time.Millisecond)

	// For histograms, verify the metric exists and was created successfully
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestMeasureDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	MeasureDBQuery(m, "list_actors", "postgres")()
	RecordDBQuery(m, "get_actor", "postgres", 5*time.Millisecond)

	if series := promtest.CollectAndCount(m.DBQueryDuration); series != 2 {
		t.Errorf("expected 2 labeled query series, got %d", series)
	}

	// A nil collector must not panic and must return a usable no-op.
	MeasureDBQuery(nil, "list_actors", "postgres")()
	RecordDBQuery(nil, "list_actors", "postgres", time.Millisecond)
}

func TestSetStoreHealthy(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SetStoreHealthy(true)
	if got := promtest.ToFloat64(m.StoreHealthy); got != 1 {
		t.Errorf("expected store healthy gauge 1, got %.0f", got)
	}

	m.SetStoreHealthy(false)
	if got := promtest.ToFloat64(m.StoreHealthy); got != 0 {
		t.Errorf("expected store healthy gauge 0, got %.0f", got)
	}
}
