package session

import (
	"math/rand"
	"time"
)

// NextBackoffDelay computes the reconnect delay for the given 1-based
// attempt, capped at MaxDelay, with optional full jitter.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.Multiplier
		if delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter && rng != nil {
		delay = delay * (0.5 + 0.5*rng.Float64())
	}
	return time.Duration(delay)
}
