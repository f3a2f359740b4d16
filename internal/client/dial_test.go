package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 300 * time.Millisecond},
		{attempt: 9, want: 300 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := nextBackoffDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: got %s want %s", tc.attempt, got, tc.want)
		}
	}

	cfg.Jitter = true
	if got := nextBackoffDelay(cfg, 2, nil); got != 100*time.Millisecond {
		t.Fatalf("jitter without rng must halve the delay, got %s", got)
	}
}

func TestDialConnects(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	cfg := DefaultConfig()
	cfg.Address = ln.Addr().String()
	s, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	if s.Closed() {
		t.Fatalf("new sync must be open")
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatalf("expected dial error")
	}

	if _, err := Dial(context.Background(), Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}
