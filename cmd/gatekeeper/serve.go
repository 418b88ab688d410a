package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medisight/gatekeeper/internal/infra/httpserver"
	"github.com/medisight/gatekeeper/internal/middleware"
)

func runServe(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Database.AutoMigrate {
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	svc, checks, err := buildService(ctx, cfg, repo, metrics, log)
	if err != nil {
		return err
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.RPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
		defer limiter.Stop()
	}

	handler := httpserver.NewRouter(svc, httpserver.Options{
		Logger:         log,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Metrics:        metrics,
		RateLimiter:    limiter,
		Health:         checks,
		Ready:          map[string]middleware.HealthChecker{"database": checks["database"]},
	})

	// no WriteTimeout: an analysis waits on inference for as long as it takes
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr,
			"database", cfg.Database.Driver,
			"inference", cfg.Inference.Provider,
			"storage", cfg.Storage.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down server...")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx2, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
