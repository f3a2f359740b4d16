// Package config loads minijirad and minijira TOML files on top of the
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/client"
	"github.com/danmuck/minijira/internal/server"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var ErrInvalid = errors.New("config: invalid")

// Server is the resolved minijirad configuration.
type Server struct {
	Service      server.ServiceConfig
	DataDir      string
	StoreBackend string
	SQLitePath   string
}

func DefaultServer() Server {
	return Server{
		Service:      server.DefaultServiceConfig(),
		DataDir:      "data",
		StoreBackend: BackendJSON,
	}
}

// ResolvedSQLitePath is SQLitePath, or minijira.db under DataDir when unset.
func (s Server) ResolvedSQLitePath() string {
	if p := strings.TrimSpace(s.SQLitePath); p != "" {
		return p
	}
	return filepath.Join(s.DataDir, "minijira.db")
}

// serverFile is the minijirad config.toml key mapping.
type serverFile struct {
	Addr              string `toml:"addr"`
	WSAddr            string `toml:"ws_addr"`
	MetricsAddr       string `toml:"metrics_addr"`
	DataDir           string `toml:"data_dir"`
	StoreBackend      string `toml:"store_backend"`
	SQLitePath        string `toml:"sqlite_path"`
	FlushInterval     string `toml:"flush_interval"`
	IdleTimeout       string `toml:"idle_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	RequireAuth       bool   `toml:"require_auth"`
	KDF               string `toml:"kdf"`
	KDFIterations     uint32 `toml:"kdf_iterations"`
	ArgonMemoryKiB    uint32 `toml:"argon_memory_kib"`
	ArgonThreads      uint8  `toml:"argon_threads"`
	MaxPayloadBytes   uint64 `toml:"max_payload_bytes"`
	CompressThreshold int    `toml:"compress_threshold"`
}

// clientFile is the minijira config.toml key mapping.
type clientFile struct {
	Addr               string `toml:"addr"`
	ConnectTimeout     string `toml:"connect_timeout"`
	CallTimeout        string `toml:"call_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
}

// LoadServer reads path and overlays every key it defines on the defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Server{}, fmt.Errorf("load server config: %w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	svc := &cfg.Service
	if meta.IsDefined("addr") {
		svc.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("ws_addr") {
		svc.WSListenAddr = strings.TrimSpace(raw.WSAddr)
	}
	if meta.IsDefined("metrics_addr") {
		svc.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("store_backend") {
		cfg.StoreBackend = strings.ToLower(strings.TrimSpace(raw.StoreBackend))
	}
	if meta.IsDefined("sqlite_path") {
		cfg.SQLitePath = strings.TrimSpace(raw.SQLitePath)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"flush_interval", raw.FlushInterval, &svc.FlushInterval},
		{"idle_timeout", raw.IdleTimeout, &svc.IdleTimeout},
		{"write_timeout", raw.WriteTimeout, &svc.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return Server{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("require_auth") {
		svc.RequireAuth = raw.RequireAuth
	}
	if meta.IsDefined("kdf") {
		kdf, err := auth.ParseKDF(raw.KDF)
		if err != nil {
			return Server{}, fmt.Errorf("load server config: %w", err)
		}
		svc.KDF.KDF = kdf
	}
	if meta.IsDefined("kdf_iterations") {
		svc.KDF.Iterations = raw.KDFIterations
	}
	if meta.IsDefined("argon_memory_kib") {
		svc.KDF.MemoryKiB = raw.ArgonMemoryKiB
	}
	if meta.IsDefined("argon_threads") {
		svc.KDF.Threads = raw.ArgonThreads
	}
	if meta.IsDefined("max_payload_bytes") {
		svc.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("compress_threshold") {
		svc.CompressThreshold = raw.CompressThreshold
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate reports the first setting minijirad cannot run with.
func (s Server) Validate() error {
	svc := s.Service
	switch {
	case strings.TrimSpace(svc.ListenAddr) == "":
		return fmt.Errorf("%w: addr is required", ErrInvalid)
	case s.StoreBackend != BackendJSON && s.StoreBackend != BackendSQLite:
		return fmt.Errorf("%w: store_backend %q (expected %s or %s)", ErrInvalid, s.StoreBackend, BackendJSON, BackendSQLite)
	case s.StoreBackend == BackendJSON && strings.TrimSpace(s.DataDir) == "":
		return fmt.Errorf("%w: data_dir is required for the %s backend", ErrInvalid, BackendJSON)
	case svc.IdleTimeout < 0 || svc.WriteTimeout < 0 || svc.FlushInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	case svc.KDF.Iterations == 0:
		return fmt.Errorf("%w: kdf_iterations must be positive", ErrInvalid)
	case svc.KDF.KDF == auth.KDFArgon2id && (svc.KDF.MemoryKiB == 0 || svc.KDF.Threads == 0):
		return fmt.Errorf("%w: argon2id needs argon_memory_kib and argon_threads", ErrInvalid)
	case svc.MaxPayloadBytes == 0:
		return fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalid)
	case svc.CompressThreshold < 0:
		return fmt.Errorf("%w: compress_threshold must not be negative", ErrInvalid)
	}
	return nil
}

// LoadClient reads path and overlays every key it defines on the client
// defaults.
func LoadClient(path string) (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Address = DefaultClientAddr

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, fmt.Errorf("load client config: %w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Address = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"call_timeout", raw.CallTimeout, &cfg.CallTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return client.Config{}, err
		}
		*d.dst = v
	}

	if strings.TrimSpace(cfg.Address) == "" {
		return client.Config{}, fmt.Errorf("load client config: %w: addr is required", ErrInvalid)
	}
	return cfg, nil
}

// DefaultClientAddr is where minijira connects without a config file.
const DefaultClientAddr = "127.0.0.1:7878"

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalid, key)
	}
	return d, nil
}
