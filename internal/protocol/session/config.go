package session

import "time"

// DefaultSyncTimeout applies when a call asks for a zero timeout.
const DefaultSyncTimeout = 1000 * time.Millisecond

// Config defines host transaction and bridge defaults.
type Config struct {
	SyncTimeout  time.Duration
	PollInterval time.Duration
	// Attempts bounds Retry. 1 disables retries.
	Attempts       int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		SyncTimeout:    DefaultSyncTimeout,
		PollInterval:   100 * time.Microsecond,
		Attempts:       1,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     500 * time.Millisecond,
			Jitter:       true,
		},
	}
}

// Normalize fills zero fields from DefaultConfig.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = d.SyncTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}
