package client

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrAddressRequired = errors.New("client: server address required")

// Dial connects to cfg.Address, retrying with backoff up to
// cfg.MaxConnectAttempts (unbounded when <= 0), and returns a Sync bound to
// the new connection.
func Dial(ctx context.Context, cfg Config) (*Sync, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := transport.Dial(ctx, cfg.Address, cfg.ConnectTimeout)
		if err == nil {
			log.Debug().Str("addr", cfg.Address).Int("attempt", attempt).Msg("client.Dial connected")
			ch := channel.New(conn, channel.Config{WriteTimeout: cfg.WriteTimeout, Codec: cfg.Codec})
			return NewSync(ch, cfg.CallTimeout), nil
		}
		log.Warn().Str("addr", cfg.Address).Int("attempt", attempt).Err(err).Msg("client.Dial attempt failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(nextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
