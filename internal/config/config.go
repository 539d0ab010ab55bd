package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	GRPC    GRPCConfig
	Checks  ChecksConfig
	DB      DatabaseConfig
	Redis   RedisConfig
	Logging LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS float64
}

type ChecksConfig struct {
	Interval        time.Duration
	CleanupInterval time.Duration
	RunOnStart      bool
	Workers         int
}

type DatabaseConfig struct {
	Driver string
	DSN    string
	Path   string
}

// RedisConfig enables the cross-instance run lock when URL is set.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvFloat("RATE_LIMIT_RPS", 5),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Checks: ChecksConfig{
			Interval:        getEnvDuration("CHECK_INTERVAL", time.Hour),
			CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
			RunOnStart:      getEnvBool("RUN_ON_START", true),
			Workers:         getEnvInt("RULE_WORKERS", 8),
		},
		DB: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			DSN:    getEnv("DB_DSN", ""),
			Path:   getEnv("DB_PATH", "./data/rental-alerts.db"),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: getEnvDuration("LOCK_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DataSource returns the driver name and connection string for repository.Open.
func (c *Config) DataSource() (string, string) {
	if c.DB.Driver == "sqlite" && c.DB.DSN == "" {
		return c.DB.Driver, c.DB.Path
	}
	return c.DB.Driver, c.DB.DSN
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.DB.Driver {
	case "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.DB.Driver)
	}

	if c.Checks.Interval < time.Minute {
		return fmt.Errorf("check interval must be at least 1 minute")
	}
	if c.Checks.CleanupInterval < time.Minute {
		return fmt.Errorf("cleanup interval must be at least 1 minute")
	}
	if c.Checks.Workers < 1 {
		return fmt.Errorf("rule workers must be at least 1")
	}
	if c.Redis.LockTTL < time.Second {
		return fmt.Errorf("lock TTL must be at least 1 second")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
