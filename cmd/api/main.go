package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/your-org/intelliguard/internal/api"
	"github.com/your-org/intelliguard/internal/app"
	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/config"
	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting IntelliGuard API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("build application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.Hub.Run(ctx)

	// With an event bus, websocket clients are fed from the stream so that
	// events published by guardctl reach them too.
	if cfg.NATS.URL != "" {
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		// One consumer per replica: every instance relays every event.
		name := "api-ws-" + uuid.NewString()[:8]
		if err := consumer.ConsumeEvents(ctx, name, a.Hub.PublishEvent); err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	var camera func(context.Context) (capture.Source, error)
	if cfg.Capture.Source != "" {
		camera = a.Camera
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		Recognition:    a.Recognition,
		Ledger:         a.Ledger,
		Hub:            a.Hub,
		Camera:         camera,
		CaptureTimeout: cfg.Capture.Timeout,
		Checks:         a.Checks,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// camera enrollment holds the request for up to the capture timeout
		WriteTimeout: 5*cfg.Capture.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
