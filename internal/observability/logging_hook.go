package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingHook writes every event to the log. Registered in development
// environments where a second sink makes pipeline behavior visible
// without standing up an APM backend.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger.With().Str("component", "observability").Logger()}
}

func (h *LoggingHook) Name() string { return "logging" }

func (h *LoggingHook) OnMessageProcessed(ctx context.Context, event MessageProcessedEvent) {
	h.logger.Debug().
		Str("messageType", event.MessageType).
		Str("uetr", event.UETR).
		Str("outcome", event.Outcome).
		Dur("duration", event.Duration).
		Msg("hook.message.processed")
}

func (h *LoggingHook) OnValidationFailed(ctx context.Context, event ValidationFailedEvent) {
	h.logger.Debug().
		Str("messageType", event.MessageType).
		Str("kind", event.Kind).
		Str("reference", event.Reference).
		Int("errorCount", event.ErrorCount).
		Msg("hook.message.validation_failed")
}

func (h *LoggingHook) OnCallbackDelivered(ctx context.Context, event CallbackDeliveredEvent) {
	h.logger.Debug().
		Str("uetr", event.UETR).
		Str("url", event.URL).
		Str("status", event.Status).
		Int("attempts", event.Attempts).
		Dur("duration", event.Duration).
		Msg("hook.callback.delivered")
}

func (h *LoggingHook) OnCallbackFailed(ctx context.Context, event CallbackFailedEvent) {
	h.logger.Debug().
		Str("uetr", event.UETR).
		Str("url", event.URL).
		Int("attempts", event.Attempts).
		Str("error", event.Error).
		Msg("hook.callback.failed")
}

func (h *LoggingHook) OnCallbackParked(ctx context.Context, event CallbackParkedEvent) {
	h.logger.Debug().
		Str("callbackId", event.CallbackID).
		Str("uetr", event.UETR).
		Str("error", event.Error).
		Msg("hook.callback.parked")
}

func (h *LoggingHook) OnQuoteCreated(ctx context.Context, event QuoteCreatedEvent) {
	h.logger.Debug().
		Str("quoteId", event.QuoteID).
		Str("fxp", event.FXP).
		Str("source", event.SourceCurrency).
		Str("destination", event.DestinationCurrency).
		Msg("hook.quote.created")
}

func (h *LoggingHook) OnQuoteExpired(ctx context.Context, event QuoteExpiredEvent) {
	h.logger.Debug().
		Str("quoteId", event.QuoteID).
		Msg("hook.quote.expired")
}
