package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds the registered hooks and dispatches events to them.
// A panicking hook is recovered and logged so one bad sink cannot take
// the pipeline down with it.
type Registry struct {
	messageHooks  []MessageHook
	callbackHooks []CallbackHook
	quoteHooks    []QuoteHook
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{logger: logger}
}

// RegisterMessageHook adds a message pipeline hook.
func (r *Registry) RegisterMessageHook(hook MessageHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageHooks = append(r.messageHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("observability: registered message hook")
}

// RegisterCallbackHook adds a callback delivery hook.
func (r *Registry) RegisterCallbackHook(hook CallbackHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbackHooks = append(r.callbackHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("observability: registered callback hook")
}

// RegisterQuoteHook adds a quote lifecycle hook.
func (r *Registry) RegisterQuoteHook(hook QuoteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quoteHooks = append(r.quoteHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("observability: registered quote hook")
}

// EmitMessageProcessed dispatches to all message hooks.
func (r *Registry) EmitMessageProcessed(ctx context.Context, event MessageProcessedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.messageHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnMessageProcessed", hook.Name())
			hook.OnMessageProcessed(ctx, event)
		}()
	}
}

// EmitValidationFailed dispatches to all message hooks.
func (r *Registry) EmitValidationFailed(ctx context.Context, event ValidationFailedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.messageHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnValidationFailed", hook.Name())
			hook.OnValidationFailed(ctx, event)
		}()
	}
}

// EmitCallbackDelivered dispatches to all callback hooks.
func (r *Registry) EmitCallbackDelivered(ctx context.Context, event CallbackDeliveredEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.callbackHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnCallbackDelivered", hook.Name())
			hook.OnCallbackDelivered(ctx, event)
		}()
	}
}

// EmitCallbackFailed dispatches to all callback hooks.
func (r *Registry) EmitCallbackFailed(ctx context.Context, event CallbackFailedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.callbackHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnCallbackFailed", hook.Name())
			hook.OnCallbackFailed(ctx, event)
		}()
	}
}

// EmitCallbackParked dispatches to all callback hooks.
func (r *Registry) EmitCallbackParked(ctx context.Context, event CallbackParkedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.callbackHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnCallbackParked", hook.Name())
			hook.OnCallbackParked(ctx, event)
		}()
	}
}

// EmitQuoteCreated dispatches to all quote hooks.
func (r *Registry) EmitQuoteCreated(ctx context.Context, event QuoteCreatedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.quoteHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnQuoteCreated", hook.Name())
			hook.OnQuoteCreated(ctx, event)
		}()
	}
}

// EmitQuoteExpired dispatches to all quote hooks.
func (r *Registry) EmitQuoteExpired(ctx context.Context, event QuoteExpiredEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.quoteHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnQuoteExpired", hook.Name())
			hook.OnQuoteExpired(ctx, event)
		}()
	}
}

// recoverPanic logs and swallows a panic raised by a hook.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability: hook panicked (recovered)")
	}
}
