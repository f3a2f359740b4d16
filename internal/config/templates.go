package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/client"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// Template renders the defaults for kind as a TOML document.
func Template(kind string) (string, error) {
	var doc any
	var header string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		header = "# minijirad configuration\n"
		doc = serverDefaults()
	case KindClient:
		header = "# minijira client configuration\n"
		doc = clientDefaults()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteTemplate writes the template for kind to path. An existing file is
// kept unless overwrite is set.
func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func serverDefaults() serverFile {
	d := DefaultServer()
	svc := d.Service
	kdf := svc.KDF
	if kdf.KDF == "" {
		kdf = auth.DefaultParams()
	}
	return serverFile{
		Addr:              svc.ListenAddr,
		WSAddr:            svc.WSListenAddr,
		MetricsAddr:       svc.MetricsAddr,
		DataDir:           d.DataDir,
		StoreBackend:      d.StoreBackend,
		SQLitePath:        d.SQLitePath,
		FlushInterval:     svc.FlushInterval.String(),
		IdleTimeout:       svc.IdleTimeout.String(),
		WriteTimeout:      svc.WriteTimeout.String(),
		RequireAuth:       svc.RequireAuth,
		KDF:               string(kdf.KDF),
		KDFIterations:     kdf.Iterations,
		ArgonMemoryKiB:    kdf.MemoryKiB,
		ArgonThreads:      kdf.Threads,
		MaxPayloadBytes:   svc.MaxPayloadBytes,
		CompressThreshold: svc.CompressThreshold,
	}
}

func clientDefaults() clientFile {
	c := client.DefaultConfig()
	return clientFile{
		Addr:               DefaultClientAddr,
		ConnectTimeout:     c.ConnectTimeout.String(),
		CallTimeout:        c.CallTimeout.String(),
		MaxConnectAttempts: c.MaxConnectAttempts,
		BackoffInitial:     c.Backoff.InitialDelay.String(),
		BackoffMax:         c.Backoff.MaxDelay.String(),
	}
}
