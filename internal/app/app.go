package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/onetimeview/onetimeview/internal/config"
	"github.com/onetimeview/onetimeview/internal/db"
	"github.com/onetimeview/onetimeview/internal/repository"
	"github.com/onetimeview/onetimeview/internal/service"
	"github.com/onetimeview/onetimeview/internal/storage"
	"github.com/onetimeview/onetimeview/internal/token"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "onetimeview:"

type App struct {
	Cfg           *config.Config
	DB            *sqlx.DB      // nil with STORE_DRIVER=redis
	Redis         *redis.Client // nil with STORE_DRIVER=sql
	Storage       storage.Storage
	SecretService *service.SecretService
	Sweeper       *service.Sweeper
}

func New(cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	var secrets repository.SecretRepository
	var handoffs repository.HandoffRepository

	switch cfg.StoreDriver {
	case config.StoreRedis:
		client, err := repository.NewRedisClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		a.Redis = client
		secrets = repository.NewRedisSecretRepository(client, redisKeyPrefix)
		handoffs = repository.NewRedisHandoffRepository(client, redisKeyPrefix)
		slog.Info("redis connected", "addr", cfg.RedisAddr)

	default:
		// Initialize database
		database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %v", err)
		}
		a.DB = database

		// Run database migrations
		err = db.RunMigrations(database.DB, cfg.DBDriver)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to run migrations: %v", err)
		}

		secrets = repository.NewSecretRepository(database)
		handoffs = repository.NewHandoffRepository(database)
	}

	// Storage
	fileStorage, err := storage.New(cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}
	a.Storage = fileStorage

	key, err := signingKey(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// Services
	a.SecretService = service.NewSecretService(
		secrets,
		handoffs,
		fileStorage,
		token.NewSigner(key),
		service.Options{
			AppURL:              cfg.AppURL,
			DefaultExpiry:       cfg.DefaultExpiry,
			MaxExpiry:           cfg.MaxExpiry,
			MaxViews:            cfg.MaxViews,
			MaxTextLength:       cfg.MaxTextLength,
			MaxFileSize:         cfg.MaxFileSize,
			MaxPasswordAttempts: cfg.MaxPasswordAttempts,
			HandoffTTL:          cfg.HandoffTTL,
		},
	)
	a.Sweeper = service.NewSweeper(a.SecretService, cfg.SweepInterval)

	return a, nil
}

// signingKey returns the configured download signing key. Development runs
// without one get a random key, which invalidates links on restart.
func signingKey(cfg *config.Config) ([]byte, error) {
	if cfg.DownloadSigningKey != "" {
		return []byte(cfg.DownloadSigningKey), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("DOWNLOAD_SIGNING_KEY is required in production")
	}

	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	slog.Warn("DOWNLOAD_SIGNING_KEY not set, using a random key for this process")
	return key, nil
}

// Ping reports whether the backing store is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.Redis != nil {
		return a.Redis.Ping(ctx).Err()
	}
	if a.DB != nil {
		return a.DB.PingContext(ctx)
	}
	return errors.New("no store configured")
}

func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, db.Close(a.DB))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
