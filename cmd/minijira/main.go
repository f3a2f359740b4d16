package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/minijira/internal/client"
	"github.com/danmuck/minijira/internal/config"
	"github.com/danmuck/minijira/internal/logging"
	"github.com/danmuck/minijira/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:      "minijira",
		Usage:     "interactive mini-Jira client",
		ArgsUsage: "[address]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to client TOML config",
				EnvVars: []string{"MINIJIRA_CLIENT_CONFIG"},
			},
		},
		Action: run,
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "minijira: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := client.DefaultConfig()
	cfg.Address = config.DefaultClientAddr
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadClient(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr := strings.TrimSpace(c.Args().First()); addr != "" {
		cfg.Address = addr
	}

	s, err := client.Dial(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}
	defer s.Close()
	log.Debug().Str("addr", cfg.Address).Msg("minijira connected")

	local := store.NewSet()
	sh := newShell(s, client.NewReplica(local.Tasks, local.Boards), os.Stdin, c.App.Writer)
	sh.readPassword = promptPassword
	return sh.Run(c.Context)
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, "password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
