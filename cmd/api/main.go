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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/adenalhardan/punchcard-backend/internal/app/migrate"
	httpx "github.com/adenalhardan/punchcard-backend/internal/http"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
	"github.com/adenalhardan/punchcard-backend/internal/repository/memory"
	"github.com/adenalhardan/punchcard-backend/internal/repository/postgres"
	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/form"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
	"github.com/adenalhardan/punchcard-backend/internal/service/sweeper"
	"github.com/adenalhardan/punchcard-backend/internal/ws"
	"github.com/adenalhardan/punchcard-backend/pkg/config"
	"github.com/adenalhardan/punchcard-backend/pkg/idgen"
	"github.com/adenalhardan/punchcard-backend/pkg/logger"
)

type store interface {
	repository.EventRepository
	repository.FormRepository
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator, err := schema.New(cfg.AllowedTypes, cfg.AllowedPresences)
	if err != nil {
		log.Error("invalid schema configuration", "error", err)
		os.Exit(1)
	}
	names, err := idgen.New(cfg.NamePrefix, cfg.NameLength)
	if err != nil {
		log.Error("invalid name configuration", "error", err)
		os.Exit(1)
	}

	var (
		repo     store
		dbHealth func(context.Context) error
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		repo = memory.New()
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo = postgres.New(pool)
		dbHealth = pool.Ping
	default:
		log.Error("unsupported store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	defer hub.Close()

	eventSvc := event.New(repo, validator, log, cfg)
	formSvc := form.New(eventSvc, repo, validator, hub, log)

	sweep := sweeper.New(repo, log, cfg)
	go sweep.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, eventSvc, formSvc, sweep, hub, names, limiter, httpx.Options{
		AdminToken:      cfg.AdminToken,
		StreamHeartbeat: cfg.StreamHeartbeat,
		DBHealth:        dbHealth,
		Limits: httpx.RouteLimits{
			EventWrite: cfg.RateLimits.EventWrites,
			FormWrite:  cfg.RateLimits.FormWrites,
			Read:       cfg.RateLimits.Reads,
			Stream:     cfg.RateLimits.Streams,
			Admin:      cfg.RateLimits.Admin,
		},
		TrustedProxies: cfg.TrustedProxies,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "store", cfg.StoreDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
