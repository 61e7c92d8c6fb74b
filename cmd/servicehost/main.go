// Command servicehost runs one API service (identity, catalog or order) on the broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/next-trace/scg-api-bus/config"
	"github.com/next-trace/scg-api-bus/internal/host"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to the YAML config file (optional)")
	service := flag.String("service", "", "service to run: identity | catalog | order (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("servicehost version=%s\n", version)
		return
	}

	cfg, err := load(*configPath, *service)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := host.New(cfg, logger)
	if err != nil {
		logger.Error("servicehost init failed", "err", err)
		os.Exit(1)
	}

	if err := h.Run(ctx); err != nil {
		logger.Error("servicehost failed", "service", cfg.Service, "err", err)
		os.Exit(1)
	}
}

func load(path, service string) (config.Config, error) {
	if service != "" {
		// The flag wins over file and environment.
		if err := os.Setenv("SCG_SERVICE", service); err != nil {
			return config.Config{}, err
		}
	}

	return config.Load(path)
}

func level(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}

	return l
}
