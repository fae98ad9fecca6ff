package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config is read once at startup from .env and the process environment
type Config struct {
	Port        string
	DBURL       string
	StoreDriver string
	JWTSecret   string
	// CORSOrigins is passed to the cors middleware
	CORSOrigins string
	// DevTokens enables the token issuing endpoint for local development
	DevTokens bool

	RedisAddr string

	GCSBucket      string
	GCSPrefix      string
	GCPCredentials string
	GCPProjectID   string

	SnapshotDebounce time.Duration
	SnapshotMaxWait  time.Duration
	// CursorRate caps move_cursor frames per second and connection
	CursorRate    float64
	RunMigrations bool
}

func Load() (*Config, error) {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		DBURL:          os.Getenv("DB_URL"),
		StoreDriver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		CORSOrigins:    getEnv("CORS_ORIGINS", "*"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSPrefix:      getEnv("GCS_PREFIX", "snapshots/"),
		GCPCredentials: os.Getenv("GCP_SERVICE_ACCOUNT_CREDENTIALS"),
		GCPProjectID:   os.Getenv("GCP_PROJECT_ID"),
	}

	var err error
	if cfg.SnapshotDebounce, err = getDuration("SNAPSHOT_DEBOUNCE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapshotMaxWait, err = getDuration("SNAPSHOT_MAX_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CursorRate, err = getFloat("CURSOR_RATE", 30); err != nil {
		return nil, err
	}
	if cfg.RunMigrations, err = getBool("RUN_MIGRATIONS", false); err != nil {
		return nil, err
	}
	if cfg.DevTokens, err = getBool("DEV_TOKENS", false); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DBURL == "" {
			return fmt.Errorf("DB_URL is required for the %s store", c.StoreDriver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GCSBucket != "" && c.GCPCredentials == "" {
		return fmt.Errorf("GCP_SERVICE_ACCOUNT_CREDENTIALS is required when GCS_BUCKET is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
