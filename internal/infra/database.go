package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultMaxConns          = 20
	defaultMinConns          = 2
	defaultHealthCheckPeriod = 30 * time.Second
	defaultMaxConnIdleTime   = 5 * time.Minute
)

// NewPostgresPool connects the account and ledger database. Pool limits set
// in the URL (pool_max_conns and friends) take precedence over the defaults.
func NewPostgresPool(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if !strings.Contains(url, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	if !strings.Contains(url, "pool_min_conns") {
		cfg.MinConns = defaultMinConns
	}
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return pool, nil
}
