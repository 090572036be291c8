package money

import "sync"

// DefaultScale is the number of decimal places used for currencies
// without an explicit entry in the scale registry.
const DefaultScale int32 = 2

// RateScale is the number of decimal places carried by FX rates.
// Rates are truncated, never rounded up, so a quoted rate can always
// be honored.
const RateScale int32 = 4

// Global currency scale registry with concurrent access protection.
// IDR defaults to 2 but several corridors run it at 0; deployments
// override via configuration.
var (
	scaleRegistry = map[string]int32{
		"JPY": 0,
		"VND": 0,
		"KRW": 0,
		"IDR": 2,
	}
	scaleRegistryMu sync.RWMutex
)

// Scale returns the number of decimal places for a currency code.
// Unknown currencies use DefaultScale.
func Scale(currency string) int32 {
	scaleRegistryMu.RLock()
	s, ok := scaleRegistry[currency]
	scaleRegistryMu.RUnlock()
	if !ok {
		return DefaultScale
	}
	return s
}

// SetScale overrides the scale for a currency code. Used at startup to
// apply per-deployment overrides (e.g. IDR at 0 decimal places).
func SetScale(currency string, scale int32) {
	scaleRegistryMu.Lock()
	scaleRegistry[currency] = scale
	scaleRegistryMu.Unlock()
}
