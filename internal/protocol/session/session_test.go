package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/testutil/testlog"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := cfg.Delay(2, rng)
	if got < 250*time.Millisecond || got > 500*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("nil rng must not jitter: %v", got)
	}
}

func TestNormalizeAppliesSyncDefault(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.Normalize()
	if cfg.SyncTimeout != DefaultSyncTimeout || cfg.Attempts != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	cfg = Config{SyncTimeout: 20 * time.Millisecond}.Normalize()
	if cfg.SyncTimeout != 20*time.Millisecond {
		t.Fatalf("explicit timeout overwritten: %v", cfg.SyncTimeout)
	}
}

func TestRetryRepeatsOnlyRetryableErrors(t *testing.T) {
	testlog.Start(t)
	clock := hmq.NewStepClock(time.Unix(0, 0))
	cfg := Config{Attempts: 3, Backoff: BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2}}

	calls := 0
	err := Retry(context.Background(), clock, cfg, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("ping: %w", protocol.ErrTimeout)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("retry: err=%v calls=%d", err, calls)
	}
	if got := clock.Now(); !got.Equal(time.Unix(0, 0).Add(3 * time.Millisecond)) {
		t.Fatalf("clock did not advance by the backoff schedule: %v", got)
	}

	calls = 0
	err = Retry(context.Background(), clock, cfg, nil, func(context.Context) error {
		calls++
		return protocol.ErrUnexpectedReply
	})
	if !errors.Is(err, protocol.ErrUnexpectedReply) || calls != 1 {
		t.Fatalf("non-retryable error retried: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = Retry(context.Background(), clock, cfg, nil, func(context.Context) error {
		calls++
		return protocol.ErrSlotBusy
	})
	if !errors.Is(err, protocol.ErrSlotBusy) || calls != 3 {
		t.Fatalf("busy slot: err=%v calls=%d", err, calls)
	}
}

func TestRetryJittersWithoutCallerRand(t *testing.T) {
	testlog.Start(t)
	start := time.Unix(1700000000, 0)
	clock := hmq.NewStepClock(start)
	cfg := Config{Attempts: 2, Backoff: BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, Jitter: true}}

	err := Retry(context.Background(), clock, cfg, nil, func(context.Context) error {
		return protocol.ErrTimeout
	})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("retry: %v", err)
	}
	slept := clock.Now().Sub(start)
	if slept < 5*time.Millisecond || slept > 10*time.Millisecond {
		t.Fatalf("jittered delay out of range: %v", slept)
	}
	if slept == 10*time.Millisecond {
		t.Fatalf("nil rng skipped jitter")
	}
}
