package session

import (
	"context"
	"errors"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// Retryable reports whether a failed call may be repeated. Only timeouts and
// busy slots qualify; anything the core answered is final.
func Retryable(err error) bool {
	return errors.Is(err, protocol.ErrTimeout) || errors.Is(err, protocol.ErrSlotBusy)
}

// Retry runs fn up to cfg.Attempts times, sleeping on clock between attempts.
// A nil rng is seeded from the clock when the backoff asks for jitter.
func Retry(ctx context.Context, clock hmq.Clock, cfg Config, rng *rand.Rand, fn func(ctx context.Context) error) error {
	cfg = cfg.Normalize()
	if clock == nil {
		clock = hmq.SystemClock{}
	}
	if rng == nil && cfg.Backoff.Jitter {
		rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == cfg.Attempts {
			return err
		}
		delay := cfg.Backoff.Delay(attempt, rng)
		log.Debug().Str("component", "session").Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying")
		if serr := clock.Sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}
