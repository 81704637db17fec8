package session

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the pause between retried calls.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter keeps half of each delay and randomizes the rest.
	Jitter bool
}

// Delay returns the pause after the given failed attempt (1-based). A nil rng
// disables jitter.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			d = float64(b.MaxDelay)
			break
		}
	}
	delay := time.Duration(d)
	if b.Jitter && rng != nil && delay > 1 {
		half := delay / 2
		delay = half + time.Duration(rng.Int63n(int64(delay-half)+1))
	}
	return delay
}
