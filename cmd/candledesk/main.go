package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"CandleDesk/internal/config"
	"CandleDesk/internal/logging"
	"CandleDesk/internal/store"
)

var configPath = flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or configs/config.yaml)")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&ingestCmd{}, "data")
	subcommands.Register(&fetchCmd{}, "data")
	subcommands.Register(&resampleCmd{}, "data")
	subcommands.Register(&showCmd{}, "view")
	subcommands.Register(&exportCmd{}, "view")
	subcommands.Register(&scheduleCmd{}, "service")
	subcommands.Register(&historyCmd{}, "service")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := subcommands.Execute(ctx)
	stop()
	os.Exit(int(code))
}

// app is the per-invocation wiring shared by all commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
}

func resolveConfigPath() string {
	if *configPath != "" {
		return *configPath
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "configs/config.yaml"
}

// newApp loads and validates config, builds the logger and opens the bar store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == "sqlite" {
		if err := ensureParentDir(cfg.Store.DSN); err != nil {
			return nil, err
		}
	}
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: s}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn with a fully wired app and maps its error to an exit status.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) subcommands.ExitStatus {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candledesk: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.logger.Error("command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "candledesk: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
