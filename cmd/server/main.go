package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentsession/internal/api/http"
	"torrentsession/internal/app"
	"torrentsession/internal/metrics"
	"torrentsession/internal/services/torrent/engine/anacrolix"
	"torrentsession/internal/session"
	"torrentsession/internal/statefile"
	"torrentsession/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "torrent-session", logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrent-session"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("stateDir", cfg.StateDir),
		slog.String("dataDir", cfg.DataDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := statefile.New(cfg.StateDir, logger)
	if err != nil {
		logger.Error("state store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:       cfg.DataDir,
		ListenPort:    cfg.ListenPort,
		NoDHT:         cfg.NoDHT,
		DownloadLimit: float64(cfg.DownloadLimitKiB),
		UploadLimit:   float64(cfg.UploadLimitKiB),
	}, logger)
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hub := apihttp.NewHub(logger)

	manager := session.NewManager(engine, store, hub, hub, session.Config{
		QueueNewToTop:     cfg.QueueNewToTop,
		StateSaveInterval: cfg.StateSaveInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, logger)

	managerDone := make(chan error, 1)
	go func() {
		managerDone <- manager.Run(rootCtx)
	}()

	handler := apihttp.NewServer(manager,
		apihttp.WithLogger(logger),
		apihttp.WithHub(hub),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	// The manager flushes resume data and state, then closes the engine.
	select {
	case err := <-managerDone:
		if err != nil {
			logger.Warn("manager stopped with error", slog.String("error", err.Error()))
		}
	case <-shutdownCtx.Done():
		logger.Warn("manager shutdown timed out")
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
