// Package main is the entrypoint for the enaupload API server and uploader.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/enaupload/internal/api"
	"github.com/kiranshivaraju/enaupload/internal/api/handler"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/cache"
	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/registry/adapters"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/submission"
	"github.com/kiranshivaraju/enaupload/internal/templates"
	"github.com/kiranshivaraju/enaupload/internal/uploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	templateCacheTTL = 5 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"database", cfg.Database.Driver,
		"adapter", cfg.Registry.Adapter,
		"dev_endpoint", cfg.Registry.UseDevEndpoint,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	st, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	slog.Info("store ready", "driver", cfg.Database.Driver)

	// 3. Optional Redis
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	} else {
		slog.Warn("REDIS_URL not set; running without status mirror, rate limiting or upload lease")
	}

	// 4. Templates and registry
	tmplStore, err := openTemplates(ctx, cfg.Templates, redisCache)
	if err != nil {
		return err
	}
	env := registry.NewEnvironment(cfg.Registry)
	adapter, err := adapters.New(cfg.Registry, env, slog.Default())
	if err != nil {
		return fmt.Errorf("create registry adapter: %w", err)
	}

	a := newApp(st, redisCache, tmplStore, env, adapter, cfg)

	// 5. Uploader
	opts := []uploader.Option{
		uploader.WithInterval(cfg.Uploader.PollInterval),
		uploader.WithThrottle(cfg.Uploader.Throttle),
		uploader.WithMetrics(uploader.NewMetrics(prometheus.DefaultRegisterer)),
	}
	if redisCache != nil {
		opts = append(opts,
			uploader.WithLease(redisCache, cfg.Uploader.LockTTL),
			uploader.WithStatusCache(redisCache),
		)
	}
	scheduler := uploader.New(st, adapter, opts...)

	// 6. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(a.dependencies(promhttp.Handler())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if cfg.Uploader.Enabled {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	} else {
		slog.Info("uploader disabled")
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// openTemplates builds the template store, shared through Redis when one is
// configured.
func openTemplates(ctx context.Context, cfg config.TemplatesConfig, c *cache.RedisCache) (templates.Store, error) {
	var ts templates.Store
	switch cfg.Driver {
	case "s3":
		s3Store, err := templates.NewS3Store(ctx, templates.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 templates: %w", err)
		}
		ts = s3Store
	default:
		ts = templates.NewFSStore(cfg.Dir)
	}
	if c != nil {
		ts = templates.NewCachedStore(ts, c, templateCacheTTL, slog.Default())
	}
	return ts, nil
}

// app holds the long-lived services the router is built from.
type app struct {
	store     store.Store
	cache     *cache.RedisCache
	env       *registry.Environment
	jobs      *submission.JobService
	analyses  *submission.AnalysisService
	rateLimit int
}

func newApp(st store.Store, c *cache.RedisCache, ts templates.Store, env *registry.Environment,
	adapter registry.Adapter, cfg *config.Config) *app {
	engine := templates.NewEngine(ts, templates.WithLogger(slog.Default()))
	return &app{
		store:     st,
		cache:     c,
		env:       env,
		jobs:      submission.NewJobService(st, engine, env, slog.Default()),
		analyses:  submission.NewAnalysisService(st, engine, adapter, cfg.Registry.DataDir, slog.Default()),
		rateLimit: cfg.RateLimit.RequestsPerMinute,
	}
}

// dependencies wires every handler. Redis-backed pieces stay nil without a
// cache so the router and handlers skip them.
func (a *app) dependencies(metrics http.Handler) api.Dependencies {
	checks := map[string]handler.Pinger{"database": a.store}
	var statuses handler.StatusCache
	var rateLimit *mw.RateLimit
	if a.cache != nil {
		checks["cache"] = a.cache
		statuses = a.cache
		rateLimit = mw.NewRateLimit(a.cache, a.rateLimit)
	}

	return api.Dependencies{
		Auth:      mw.NewAuth(a.store),
		RateLimit: rateLimit,

		HealthHandler:  handler.NewHealthHandler(checks),
		MetricsHandler: metrics,

		CreateJob:      handler.NewCreateJobHandler(a.jobs),
		CreateShortcut: handler.NewCreateShortcutHandler(a.jobs),
		ListJobs:       handler.NewListJobsHandler(a.jobs),
		GetJob:         handler.NewGetJobHandler(a.jobs),
		JobStatus:      handler.NewJobStatusHandler(a.jobs, statuses),
		JobChildren:    handler.NewJobChildrenHandler(a.jobs),
		EnqueueJob:     handler.NewEnqueueJobHandler(a.jobs),
		ReleaseJob:     handler.NewReleaseJobHandler(a.jobs),
		CancelJob:      handler.NewCancelJobHandler(a.jobs),
		ModifyJob:      handler.NewModifyJobHandler(a.jobs),
		ReleaseAll:     handler.NewReleaseAllHandler(a.jobs),

		ListFiles: handler.NewListFilesHandler(a.jobs),
		GetFile:   handler.NewGetFileHandler(a.jobs),

		CreateAnalysis:   handler.NewCreateAnalysisHandler(a.analyses),
		ListAnalysis:     handler.NewListAnalysisHandler(a.analyses),
		GetAnalysis:      handler.NewGetAnalysisHandler(a.analyses),
		DeleteAnalysis:   handler.NewDeleteAnalysisHandler(a.analyses),
		AnalysisStatus:   handler.NewAnalysisStatusHandler(a.analyses, statuses),
		EnqueueAnalysis:  handler.NewEnqueueAnalysisHandler(a.analyses),
		AnalysisManifest: handler.NewAnalysisManifestHandler(a.analyses),
		ValidateAnalysis: handler.NewValidateAnalysisHandler(a.analyses),

		CreateAnalysisFile: handler.NewCreateAnalysisFileHandler(a.analyses),
		ListAnalysisFiles:  handler.NewListAnalysisFilesHandler(a.analyses),
		GetAnalysisFile:    handler.NewGetAnalysisFileHandler(a.analyses),
		DeleteAnalysisFile: handler.NewDeleteAnalysisFileHandler(a.analyses),

		GetEnvironment:   handler.NewGetEnvironmentHandler(a.env),
		SetEnvironment:   handler.NewSetEnvironmentHandler(a.env),
		CreateKeyHandler: handler.NewCreateKeyHandler(a.store),
		ListKeysHandler:  handler.NewListKeysHandler(a.store),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(a.store),
	}
}
