// Package observability fans pipeline events out to pluggable sinks.
// Prometheus counters are incremented directly at the call sites; hooks
// exist for the sinks that cannot be expressed as counters, such as log
// shippers and APM tracers, without threading vendor SDKs through the
// message pipeline.
package observability

import (
	"context"
	"time"
)

// Hook is the base interface all observability hooks implement.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string
}

// MessageHook receives events from the ISO 20022 ingestion pipeline.
type MessageHook interface {
	Hook

	// OnMessageProcessed fires after a message runs the full pipeline,
	// whatever the outcome.
	OnMessageProcessed(ctx context.Context, event MessageProcessedEvent)

	// OnValidationFailed fires when a message is refused before
	// acceptance, at parse or schema stage.
	OnValidationFailed(ctx context.Context, event ValidationFailedEvent)
}

// CallbackHook receives events from callback delivery.
type CallbackHook interface {
	Hook

	// OnCallbackDelivered fires when a delivery lands.
	OnCallbackDelivered(ctx context.Context, event CallbackDeliveredEvent)

	// OnCallbackFailed fires when every in-line attempt is exhausted.
	OnCallbackFailed(ctx context.Context, event CallbackFailedEvent)

	// OnCallbackParked fires when an exhausted delivery is saved to the
	// queue for operator requeue.
	OnCallbackParked(ctx context.Context, event CallbackParkedEvent)
}

// QuoteHook receives events from the FX quote lifecycle.
type QuoteHook interface {
	Hook

	// OnQuoteCreated fires when a quote is issued.
	OnQuoteCreated(ctx context.Context, event QuoteCreatedEvent)

	// OnQuoteExpired fires when a lookup or binding finds the quote
	// past its expiry.
	OnQuoteExpired(ctx context.Context, event QuoteExpiredEvent)
}

// MessageProcessedEvent is emitted once per ingested message.
type MessageProcessedEvent struct {
	Timestamp   time.Time
	MessageType string
	UETR        string
	Outcome     string // accepted, rejected, received
	Duration    time.Duration
}

// ValidationFailedEvent is emitted for structurally refused messages.
type ValidationFailedEvent struct {
	Timestamp   time.Time
	MessageType string
	Kind        string // xml_parse or xsd_validation
	Reference   string // UETR or placeholder the refusal was recorded under
	ErrorCount  int
}

// CallbackDeliveredEvent is emitted when a callback lands.
type CallbackDeliveredEvent struct {
	Timestamp   time.Time
	UETR        string
	URL         string
	MessageType string
	Status      string // transaction status carried by the callback
	Attempts    int
	Duration    time.Duration
}

// CallbackFailedEvent is emitted when in-line delivery gives up.
type CallbackFailedEvent struct {
	Timestamp   time.Time
	UETR        string
	URL         string
	MessageType string
	Attempts    int
	Error       string
}

// CallbackParkedEvent is emitted when a failed delivery enters the queue.
type CallbackParkedEvent struct {
	Timestamp  time.Time
	CallbackID string
	UETR       string
	URL        string
	Error      string
}

// QuoteCreatedEvent is emitted when a quote is issued.
type QuoteCreatedEvent struct {
	Timestamp           time.Time
	QuoteID             string
	FXP                 string
	SourceCurrency      string
	DestinationCurrency string
}

// QuoteExpiredEvent is emitted when an expired quote is referenced.
type QuoteExpiredEvent struct {
	Timestamp time.Time
	QuoteID   string
}
