package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Protection against a failing order gateway
// ═══════════════════════════════════════════════════════════════════════════════
//
// Counts consecutive gateway errors (not rejections). At the threshold all
// submissions pause for the cooldown, then the breaker closes again.
//
// ═══════════════════════════════════════════════════════════════════════════════

type CircuitBreaker struct {
	mu sync.RWMutex

	maxConsecutiveErrors int
	cooldownDuration     time.Duration

	consecutiveErrors int
	tripped           bool
	trippedAt         time.Time
	lastErr           string
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxErrors int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveErrors: maxErrors,
		cooldownDuration:     cooldown,
	}
}

// Allow returns false while the breaker is open
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return true
	}
	if now.Sub(cb.trippedAt) >= cb.cooldownDuration {
		cb.tripped = false
		cb.consecutiveErrors = 0
		log.Info().Msg("✅ Circuit breaker reset after cooldown")
		return true
	}
	return false
}

// RecordError counts a gateway failure
func (cb *CircuitBreaker) RecordError(err error, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors++
	if err != nil {
		cb.lastErr = err.Error()
	}
	if !cb.tripped && cb.consecutiveErrors >= cb.maxConsecutiveErrors {
		cb.tripped = true
		cb.trippedAt = now
		log.Warn().
			Str("last_error", cb.lastErr).
			Int("consecutive_errors", cb.consecutiveErrors).
			Dur("cooldown", cb.cooldownDuration).
			Msg("🚨 CIRCUIT BREAKER TRIPPED")
	}
}

// RecordSuccess clears the error streak; a rejection also counts as the
// gateway answering
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveErrors = 0
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutiveErrors int, tripped bool, lastErr string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveErrors, cb.tripped, cb.lastErr
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveErrors = 0
	cb.tripped = false
	log.Info().Msg("Circuit breaker manually reset")
}
