package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/stampline"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file (optional)")
	host := flag.String("host", "", "Listen host (overrides config)")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := stampline.DefaultConfig()
	if *configPath != "" {
		loaded, err := stampline.LoadConfig(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	opts := append(stampline.ConfigOptions(cfg), stampline.LoggerOption(logger))
	handler, err := stampline.NewExchangeHandler(opts...)
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	server, err := stampline.New(cfg, stampline.ServerLoggerOption(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("listening for connections (Ctrl+C to stop)", "addr", server.Addr())
	if err := server.Serve(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
