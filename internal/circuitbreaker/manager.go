package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/NexusGateway/server/internal/config"
)

// Manager holds one circuit breaker per callback destination host.
// Breakers are created lazily on first use so newly registered PSP
// endpoints get isolation without restarts. Each destination has its
// own breaker to prevent one misbehaving PSP from blocking deliveries
// to the others.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration shared by all destinations.
type Config struct {
	// Global enable/disable toggle
	Enabled bool

	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ReadyToTrip thresholds: trip after ConsecutiveFailures in a row, or
	// once FailureRatio is reached over at least MinRequests requests.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.BreakerConfig) *Manager {
	return NewManager(Config{
		Enabled:             cfg.Enabled,
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   cfg,
	}
}

// Execute wraps a function call with circuit breaker protection for the
// given destination key (normally the callback URL host). If breakers are
// disabled, the function executes directly.
func (m *Manager) Execute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.config.Enabled {
		return fn()
	}
	return m.breaker(key).Execute(fn)
}

// State returns the current state of the breaker for a destination.
// Returns "disabled" if circuit breakers are not enabled and
// "not_tracked" if the destination has never been used.
func (m *Manager) State(key string) string {
	if m == nil || !m.config.Enabled {
		return "disabled"
	}

	m.mu.RLock()
	breaker, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return "not_tracked"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a destination's breaker.
func (m *Manager) Counts(key string) Counts {
	if m == nil || !m.config.Enabled {
		return Counts{}
	}

	m.mu.RLock()
	breaker, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Keys lists every destination that has a breaker, for diagnostics.
func (m *Manager) Keys() []string {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.breakers))
	for k := range m.breakers {
		keys = append(keys, k)
	}
	return keys
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// breaker returns the breaker for a key, creating it on first use.
func (m *Manager) breaker(key string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	breaker, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, ok = m.breakers[key]; ok {
		return breaker
	}
	breaker = gobreaker.NewCircuitBreaker(toGobreakerSettings(key, m.config))
	m.breakers[key] = breaker
	return breaker
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg Config) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if we've hit consecutive failures threshold
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			// Trip if we've hit failure ratio threshold (and have minimum requests)
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("destination", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker: state changed")
		},
	}
}

// DefaultConfig returns sensible defaults for callback delivery breakers.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}
