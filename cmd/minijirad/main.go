package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danmuck/minijira/internal/config"
	"github.com/danmuck/minijira/internal/logging"
	"github.com/danmuck/minijira/internal/server"
	"github.com/danmuck/minijira/internal/store"
	"github.com/danmuck/minijira/internal/store/sqlitestore"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "minijirad: %v\n", err)
		os.Exit(1)
	}
}

func buildApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to minijirad TOML config",
		EnvVars: []string{"MINIJIRA_SERVER_CONFIG"},
	}
	return &cli.App{
		Name:   "minijirad",
		Usage:  "mini-Jira task server",
		Flags:  []cli.Flag{configFlag},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the server",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:  "config",
				Usage: "config file helpers",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "write a config template with the defaults",
						ArgsUsage: "[path]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "kind", Value: config.KindServer, Usage: "server or client"},
							&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
						},
						Action: func(c *cli.Context) error {
							path := c.Args().First()
							if path == "" {
								path = c.String("kind") + ".toml"
							}
							if err := config.WriteTemplate(path, c.String("kind"), c.Bool("force")); err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
							return nil
						},
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.Server, error) {
	path := c.String("config")
	if path == "" {
		cfg := config.DefaultServer()
		return cfg, cfg.Validate()
	}
	return config.LoadServer(path)
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	stores := store.NewSet()
	snap, err := backend.Load(c.Context)
	if err != nil {
		return fmt.Errorf("load stores: %w", err)
	}
	stores.Restore(snap)
	log.Info().
		Str("backend", cfg.StoreBackend).
		Int("tasks", len(snap.Tasks)).
		Int("users", len(snap.Users)).
		Int("boards", len(snap.Boards)).
		Msg("minijirad stores loaded")

	svc := server.NewService(cfg.Service, stores, backend)
	if err := svc.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("minijirad stopped")
	return nil
}

func openBackend(cfg config.Server) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		path := cfg.ResolvedSQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return sqlitestore.Open(path)
	default:
		return store.NewFileBackend(cfg.DataDir), nil
	}
}
