package routes

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/auth"
	"github.com/mozabank/banking_api/internal/config"
	"github.com/mozabank/banking_api/internal/identity"
	"github.com/mozabank/banking_api/internal/ledger"
	"github.com/mozabank/banking_api/internal/lock"
	"github.com/mozabank/banking_api/internal/middleware"
	"github.com/mozabank/banking_api/internal/notification"
	"github.com/mozabank/banking_api/internal/storage"
	"github.com/mozabank/banking_api/internal/transfer"
)

const (
	seedTimeout = 30 * time.Second
	// An attempt makes three bounded store calls under the lock: both
	// lookups and the commit.
	storeCallsPerLock = 3
	lockExpiryMargin  = time.Second
)

// Deps aggregates shared dependencies required to wire routes. A nil DB or
// Cache selects the in-memory fallbacks, which only development allows.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *zap.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		accounts  account.Store
		entries   ledger.Store
		committer transfer.Committer
		users     identity.Repository
	)
	if d.DB != nil {
		pg := storage.NewPostgres(d.DB)
		accounts, entries, committer = pg, pg, pg
		users = identity.NewPostgresRepository(d.DB)
	} else {
		mem := storage.NewMemory()
		accounts, entries, committer = mem, mem, mem
		users = identity.NewMemoryRepository()
		d.Logger.Warn("using in-memory stores; data is lost on restart")
	}

	var locker lock.Locker = lock.NewLocal()
	if d.Cfg.LockBackend == config.LockBackendRedis && d.Cache != nil {
		locker = lock.NewRedis(d.Cache, d.Logger,
			lock.WithExpiry(lockExpiry(d.Cfg.StoreTimeout)),
			lock.WithPrefix(lockPrefix(d.Cfg.AppName)),
		)
	}

	identitySvc := identity.NewService(users, nil)
	if d.Cfg.SeedDemoData {
		ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
		created, err := identity.SeedDemoUsers(ctx, identitySvc)
		cancel()
		if err != nil {
			return fmt.Errorf("seed demo users: %w", err)
		}
		if created > 0 {
			d.Logger.Info("demo users seeded", zap.Int("count", created))
		}
	}

	tokens, err := auth.NewTokenService([]byte(d.Cfg.JWTSecret))
	if err != nil {
		return err
	}
	authSvc := auth.NewService(identitySvc, tokens, d.Logger)
	accountSvc := account.NewService(accounts, identitySvc)
	engine := transfer.NewEngine(accounts, entries, committer,
		transfer.WithLocker(locker),
		transfer.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
		transfer.WithLogger(d.Logger),
		transfer.WithStoreTimeout(d.Cfg.StoreTimeout),
		transfer.WithRetries(d.Cfg.MaxRetries, d.Cfg.RetryBase),
	)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.CurrentRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, auth.NewHandler(authSvc), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit, d.Logger))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(tokens))
	RegisterTransferRoutes(protected, transfer.NewHandler(engine), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	RegisterAccountRoutes(protected, account.NewHandler(accountSvc))
	RegisterUserRoutes(protected, identity.NewHandler(identitySvc))

	return nil
}

// lockExpiry keeps a distributed lock alive for a full transfer attempt.
func lockExpiry(storeTimeout time.Duration) time.Duration {
	return storeCallsPerLock*storeTimeout + lockExpiryMargin
}

// lockPrefix namespaces lock keys per application so deployments sharing a
// Redis do not block each other.
func lockPrefix(appName string) string {
	name := strings.ToLower(strings.Join(strings.Fields(appName), "-"))
	if name == "" {
		return "lock:account:"
	}
	return "lock:" + name + ":account:"
}
