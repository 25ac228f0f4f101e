package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mozabank/banking_api/internal/config"
	"github.com/mozabank/banking_api/internal/infra"
	"github.com/mozabank/banking_api/internal/logging"
	"github.com/mozabank/banking_api/internal/server"
)

const connectTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With(zap.String("app", cfg.AppName), zap.String("env", cfg.AppEnv))
	defer logger.Sync() // nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
				logger.Fatal("run migrations", zap.Error(err))
			}
		}
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		}()
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Address()))
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
