package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/observability"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/protocol/frame"
	"github.com/danmuck/minijira/internal/store"
	"github.com/danmuck/minijira/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServiceConfig is the server runtime configuration.
type ServiceConfig struct {
	ListenAddr        string
	WSListenAddr      string
	MetricsAddr       string
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	FlushInterval     time.Duration
	RequireAuth       bool
	KDF               auth.Params
	MaxPayloadBytes   uint64
	CompressThreshold int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:        ":7878",
		IdleTimeout:       10 * time.Minute,
		WriteTimeout:      15 * time.Second,
		FlushInterval:     30 * time.Second,
		KDF:               auth.DefaultParams(),
		MaxPayloadBytes:   frame.DefaultLimits().MaxPayloadBytes,
		CompressThreshold: protocol.DefaultCodec().CompressThreshold,
	}
}

// Service accepts connections and runs one Dispatcher per connection.
type Service struct {
	cfg     ServiceConfig
	server  *Server
	stores  *store.Set
	backend store.Backend

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	connsWG sync.WaitGroup

	activeClients atomic.Int64
	flushMu       sync.Mutex
	started       time.Time
}

// NewService builds a service over stores. backend may be nil, in which
// case nothing is persisted.
func NewService(cfg ServiceConfig, stores *store.Set, backend store.Backend) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	if cfg.KDF.KDF == "" {
		cfg.KDF = auth.DefaultParams()
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = frame.DefaultLimits().MaxPayloadBytes
	}
	return &Service{
		cfg:     cfg,
		server:  NewServer(stores, permission.Gate{RequireAuth: cfg.RequireAuth}, cfg.KDF),
		stores:  stores,
		backend: backend,
		conns:   make(map[net.Conn]struct{}),
		started: time.Now(),
	}
}

// Server returns the shared state owner.
func (s *Service) Server() *Server {
	return s.server
}

// Run listens on the configured addresses and blocks until ctx ends, then
// waits for connections to drain and flushes the stores.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	var wsLn net.Listener
	if addr := strings.TrimSpace(s.cfg.WSListenAddr); addr != "" {
		wsLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Service.Run listening")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.Serve(runCtx, ln)
	}()
	if wsLn != nil {
		log.Info().Str("addr", wsLn.Addr().String()).Str("path", transport.WSPath).Msg("server.Service.Run websocket listening")
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.ServeWS(runCtx, wsLn)
		}()
	}
	if addr := strings.TrimSpace(s.cfg.MetricsAddr); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.serveMetrics(runCtx, addr)
		}()
	}
	if s.backend != nil && s.cfg.FlushInterval > 0 {
		go s.flushLoop(runCtx)
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	s.closeAllConns()
	s.connsWG.Wait()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := s.Flush(flushCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Serve runs the accept loop on ln until ctx ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.admitConn(conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.releaseConn(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// ServeWS serves the WebSocket transport on ln until ctx ends.
func (s *Service) ServeWS(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(transport.WSPath, transport.WSHandler(func(conn net.Conn) {
		if !s.admitConn(conn) {
			_ = conn.Close()
			return
		}
		defer s.releaseConn(conn)
		s.handleConn(ctx, conn)
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serveMetrics serves /metrics and /health on addr until ctx ends.
func (s *Service) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", s.health)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("addr", addr).Msg("server.Service metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"service":        "minijirad",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"active_clients": s.activeClients.Load(),
		"sessions":       s.server.sessions.Count(),
	})
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	remote := addrString(conn.RemoteAddr())
	active := s.activeClients.Add(1)
	observability.SetActiveConnections(active)
	log.Info().Str("conn_id", connID).Str("remote", remote).Int64("active_clients", active).Msg("server.Service client connected")
	defer func() {
		remaining := s.activeClients.Add(-1)
		observability.SetActiveConnections(remaining)
		log.Info().Str("conn_id", connID).Str("remote", remote).Int64("active_clients", remaining).Msg("server.Service client disconnected")
	}()

	codec := protocol.DefaultCodec()
	codec.Limits.MaxPayloadBytes = s.cfg.MaxPayloadBytes
	codec.CompressThreshold = s.cfg.CompressThreshold
	ch := channel.New(conn, channel.Config{WriteTimeout: s.cfg.WriteTimeout, Codec: codec})
	defer ch.Close()

	err := NewDispatcher(s.server, ch, s.cfg.IdleTimeout, connID).Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Debug().Str("conn_id", connID).Err(err).Msg("server.Service connection ended")
	}
}

// Flush writes a snapshot of the stores to the backend.
func (s *Service) Flush(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	err := s.backend.Save(ctx, s.stores.Snapshot())
	observability.RecordFlush(err)
	if err != nil {
		log.Error().Err(err).Msg("server.Service flush failed")
	}
	return err
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Flush(ctx)
		}
	}
}

// admitConn tracks conn and counts it in connsWG. It refuses once
// closeAllConns has run, so no Add can follow the shutdown Wait.
func (s *Service) admitConn(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connsWG.Add(1)
	return true
}

func (s *Service) releaseConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.connsWG.Done()
}

// closeAllConns closes every tracked connection, unblocking their
// dispatchers, and stops admitting new ones.
func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
