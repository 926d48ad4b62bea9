package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	addr := flag.String("addr", "", "listen address, overrides config and SERVER_PORT")
	flag.Parse()

	// Local .env is optional.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Port = *addr
	}

	logger, level := server.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	go m.Report(ctx, cfg.MetricsInterval, os.Stderr)

	hub := server.NewHub(cfg, logger, m)
	go hub.Run(ctx)

	page := server.NewPageHandler(cfg.StaticFile, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, page))

	ln, err := server.Listen(httpServer)
	if err != nil {
		logger.Error("Failed to start server", "err", err)
		os.Exit(1)
	}

	if *configPath != "" {
		go func() {
			err := server.WatchConfig(ctx, *configPath, logger, func(next *server.Config) {
				page.SetPath(next.StaticFile)
				hub.SetWelcomeMessage(next.WelcomeMessage)
				if lvl, err := server.ParseLevel(next.Log.Level); err == nil {
					level.Set(lvl)
				}
			})
			if err != nil {
				logger.Warn("Config watch disabled", "path", *configPath, "err", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server running", "url", "http://localhost"+httpServer.Addr)
		serveErr <- server.Serve(httpServer, ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server stopped", "err", err)
		}
		cancel()
	}

	logger.Info("Shutting down")
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Hub shutdown error", "err", err)
	}
	m.WriteOnce(os.Stderr)
}
