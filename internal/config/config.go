package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQL   = "sql"
	StoreRedis = "redis"

	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	// Application
	AppName string `yaml:"app_name"`
	AppEnv  string `yaml:"app_env"`
	AppURL  string `yaml:"app_url"` // Base URL for share links
	Port    string `yaml:"port"`

	// Persistence: "sql" (DBDriver decides sqlite or pgx) or "redis"
	StoreDriver  string `yaml:"store_driver"`
	DBDriver     string `yaml:"db_driver"`
	DBConnection string `yaml:"db_connection"`

	// Redis (STORE_DRIVER=redis)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// File storage: "local" or "s3"
	StorageDriver string `yaml:"storage_driver"`
	UploadDir     string `yaml:"upload_dir"`

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Endpoint  string `yaml:"s3_endpoint"` // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)

	// Secrets
	DefaultExpiry       time.Duration `yaml:"default_expiry"`
	MaxExpiry           time.Duration `yaml:"max_expiry"`
	MaxViews            int           `yaml:"max_views"`
	MaxTextLength       int           `yaml:"max_text_length"`
	MaxFileSize         int64         `yaml:"max_file_size"`
	MaxPasswordAttempts int           `yaml:"max_password_attempts"`

	// Download handoffs
	DownloadSigningKey string        `yaml:"download_signing_key"`
	HandoffTTL         time.Duration `yaml:"handoff_ttl"`

	// Background sweep
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Observability (optional)
	SentryDSN string `yaml:"sentry_dsn"`
}

// Defaults returns the configuration used when neither CONFIG_FILE nor the
// environment provide a value.
func Defaults() *Config {
	return &Config{
		AppName: "OneTimeView",
		AppEnv:  "development",
		AppURL:  "http://localhost:8090",
		Port:    "8090",

		StoreDriver:  StoreSQL,
		DBDriver:     "sqlite",
		DBConnection: "./data/onetimeview.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite",

		RedisAddr: "localhost:6379",

		StorageDriver: StorageLocal,
		UploadDir:     "./uploads",

		DefaultExpiry:       24 * time.Hour,
		MaxExpiry:           7 * 24 * time.Hour,
		MaxViews:            10,
		MaxTextLength:       50000,
		MaxFileSize:         100 << 20, // 100MB
		MaxPasswordAttempts: 5,

		HandoffTTL: 5 * time.Minute,

		SweepInterval: 5 * time.Minute,
	}
}

// Load reads .env, then the optional YAML file named by CONFIG_FILE, then
// environment variables. Later sources win.
func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err = cfg.loadFile(path)
		if err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	err = yaml.Unmarshal(data, c)
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadEnv() {
	// Application
	c.AppName = envString("APP_NAME", c.AppName)
	c.AppEnv = envString("APP_ENV", c.AppEnv)
	c.AppURL = envString("APP_URL", c.AppURL)
	c.Port = envString("PORT", c.Port)

	// Persistence
	c.StoreDriver = envString("STORE_DRIVER", c.StoreDriver)
	c.DBDriver = envString("DB_DRIVER", c.DBDriver)
	c.DBConnection = envString("DB_CONNECTION", c.DBConnection)
	c.RedisAddr = envString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("REDIS_DB", c.RedisDB)

	// Storage
	c.StorageDriver = envString("STORAGE_DRIVER", c.StorageDriver)
	c.UploadDir = envString("UPLOAD_DIR", c.UploadDir)
	c.S3Region = envString("S3_REGION", c.S3Region)
	c.S3Bucket = envString("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envString("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envString("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Endpoint = envString("S3_ENDPOINT", c.S3Endpoint)

	// Secrets
	c.DefaultExpiry = envDuration("DEFAULT_EXPIRY", c.DefaultExpiry)
	c.MaxExpiry = envDuration("MAX_EXPIRY", c.MaxExpiry)
	c.MaxViews = envInt("MAX_VIEWS", c.MaxViews)
	c.MaxTextLength = envInt("MAX_TEXT_LENGTH", c.MaxTextLength)
	c.MaxFileSize = int64(envInt("MAX_FILE_SIZE", int(c.MaxFileSize)))
	c.MaxPasswordAttempts = envInt("MAX_PASSWORD_ATTEMPTS", c.MaxPasswordAttempts)

	// Downloads
	c.DownloadSigningKey = envString("DOWNLOAD_SIGNING_KEY", c.DownloadSigningKey)
	c.HandoffTTL = envDuration("HANDOFF_TTL", c.HandoffTTL)

	// Sweep
	c.SweepInterval = envDuration("SWEEP_INTERVAL", c.SweepInterval)

	// Observability
	c.SentryDSN = envString("SENTRY_DSN", c.SentryDSN)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.AppEnv != "development" && c.AppEnv != "production" {
		return fmt.Errorf("invalid APP_ENV %q (must be 'development' or 'production')", c.AppEnv)
	}
	if c.AppURL == "" {
		return errors.New("APP_URL is required")
	}

	switch c.StoreDriver {
	case StoreSQL:
		if c.DBDriver != "sqlite" && c.DBDriver != "pgx" {
			return fmt.Errorf("invalid DB_DRIVER %q (must be 'sqlite' or 'pgx')", c.DBDriver)
		}
		if c.DBConnection == "" {
			return errors.New("DB_CONNECTION is required")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when STORE_DRIVER is 'redis'")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (must be 'sql' or 'redis')", c.StoreDriver)
	}

	switch c.StorageDriver {
	case StorageLocal:
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR is required when STORAGE_DRIVER is 'local'")
		}
	case StorageS3:
		if c.S3Region == "" || c.S3Bucket == "" {
			return errors.New("S3_REGION and S3_BUCKET are required when STORAGE_DRIVER is 's3'")
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q (must be 'local' or 's3')", c.StorageDriver)
	}

	if c.DefaultExpiry <= 0 {
		return errors.New("DEFAULT_EXPIRY must be positive")
	}
	if c.MaxExpiry < c.DefaultExpiry {
		return errors.New("MAX_EXPIRY must be >= DEFAULT_EXPIRY")
	}
	if c.MaxViews < 1 {
		return errors.New("MAX_VIEWS must be at least 1")
	}
	if c.MaxTextLength < 1 {
		return errors.New("MAX_TEXT_LENGTH must be at least 1")
	}
	if c.MaxFileSize < 1 {
		return errors.New("MAX_FILE_SIZE must be at least 1")
	}
	if c.MaxPasswordAttempts < 1 {
		return errors.New("MAX_PASSWORD_ATTEMPTS must be at least 1")
	}
	if c.HandoffTTL <= 0 {
		return errors.New("HANDOFF_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}

	// Production: download tokens must not be signed with a guessable key
	if c.IsProduction() && len(c.DownloadSigningKey) < 32 {
		return errors.New("production deployment requires DOWNLOAD_SIGNING_KEY of at least 32 bytes")
	}

	return nil
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
