package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/medisight/gatekeeper/internal/application"
	appreports "github.com/medisight/gatekeeper/internal/application/reports"
	"github.com/medisight/gatekeeper/internal/config"
	"github.com/medisight/gatekeeper/internal/domain/inference"
	"github.com/medisight/gatekeeper/internal/domain/reports"
	mongop "github.com/medisight/gatekeeper/internal/infra/db/mongo"
	mysqlp "github.com/medisight/gatekeeper/internal/infra/db/mysql"
	postgresp "github.com/medisight/gatekeeper/internal/infra/db/postgres"
	"github.com/medisight/gatekeeper/internal/infra/inference/httpclient"
	openaiinf "github.com/medisight/gatekeeper/internal/infra/inference/openai"
	"github.com/medisight/gatekeeper/internal/infra/storage"
	"github.com/medisight/gatekeeper/internal/logging"
	"github.com/medisight/gatekeeper/internal/middleware"
)

// reportStore is what every database adapter provides.
type reportStore interface {
	reports.Repository
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config load error: %w", err)
	}
	log, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config) (reportStore, func(), error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect error: %w", err)
		}
		return mysqlp.NewReportRepository(db), func() { _ = db.Close() }, nil

	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect error: %w", err)
		}
		return postgresp.NewReportRepository(db), func() { _ = db.Close() }, nil

	case "mongo":
		cli, err := mongop.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect error: %w", err)
		}
		name := cfg.Database.Name
		if name == "" {
			name = config.DefaultMongoDatabase
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cli.Disconnect(ctx)
		}
		return mongop.NewReportRepository(cli.Database(name)), closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// newInference returns the configured client and, when the provider can be
// pinged, a health checker for it.
func newInference(cfg *config.Config) (inference.Client, middleware.HealthChecker) {
	if cfg.Inference.Provider == "openai" {
		ai := cfg.Inference.OpenAI
		return openaiinf.NewClient(ai.APIKey, ai.BaseURL, ai.Model), nil
	}
	c := httpclient.New(cfg.Inference.URL, cfg.Inference.Timeout)
	return c, middleware.CheckerFunc(c.Ping)
}

// buildService wires the report service. checks collects health checkers for
// the optional dependencies.
func buildService(ctx context.Context, cfg *config.Config, repo reportStore, metrics *middleware.Metrics, log *slog.Logger) (*appreports.Service, map[string]middleware.HealthChecker, error) {
	images, err := storage.NewLocal(cfg.Storage.UploadDir)
	if err != nil {
		return nil, nil, err
	}

	client, inferenceCheck := newInference(cfg)

	svc := &appreports.Service{
		Repo:      repo,
		Images:    images,
		Inference: client,
		Clock:     application.SystemClock{},
		Metrics:   metrics,
		Logger:    log,
	}

	checks := map[string]middleware.HealthChecker{
		"database": middleware.CheckerFunc(repo.Ping),
	}
	if inferenceCheck != nil {
		checks["inference"] = inferenceCheck
	}

	if cfg.Storage.Driver == "minio" {
		m := cfg.Minio
		archive, err := storage.NewMinio(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("minio init error: %w", err)
		}
		svc.Archive = archive
		checks["archive"] = middleware.CheckerFunc(archive.Ping)
	}

	return svc, checks, nil
}
