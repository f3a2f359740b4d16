package client

import (
	"math"
	"math/rand"
	"time"

	"github.com/danmuck/minijira/internal/protocol"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines client connection and call defaults.
type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Codec              protocol.Codec
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		CallTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Codec: protocol.DefaultCodec(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Codec.Limits.MaxPayloadBytes == 0 {
		c.Codec = d.Codec
	}
	return c
}

// nextBackoffDelay returns the retry delay for attempt N (1-based).
func nextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	mult := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
