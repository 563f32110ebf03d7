package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmhub/swarmhub/hub"
	"github.com/swarmhub/swarmhub/internal/hub/config"
	"github.com/swarmhub/swarmhub/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to YAML config file")
	addr := fs.String("addr", "", "listen address (overrides bind_addr)")
	dataDir := fs.String("data-dir", "", "data directory (overrides data_dir)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	if *logLevel != "" {
		level, err := logging.ParseLevel(*logLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
			return exitConfig
		}
		logging.SetLevel(level)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("loading configuration", "error", err)
		return exitConfig
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitConfig
	}
	if err := cfg.EnsureDataDir(); err != nil {
		slog.Error("preparing data directory", "error", err)
		return exitData
	}

	server, err := hub.NewServer(cfg)
	if err != nil {
		slog.Error("starting hub", "error", err)
		return exitData
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("swarmhub starting", "version", version, "addr", cfg.BindAddr, "data_dir", cfg.DataDir)
	if err := server.Serve(ctx); err != nil {
		slog.Error("fatal", "error", err)
		return exitIO
	}
	return 0
}
