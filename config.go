package archivist

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds configuration for an archivist server.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Store       StoreConfig       `toml:"store"`
	Lock        LockConfig        `toml:"lock"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	Analyst     AnalystConfig     `toml:"analyst"`
	Credential  CredentialConfig  `toml:"credential"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`

	// OperatorToken, when set, is required as a bearer token on the
	// operator API. Analyst endpoints are never authenticated.
	OperatorToken string `toml:"operator_token"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "postgres" or "sqlite".
	Driver string `toml:"driver"`

	// DSN is the postgres connection URL or the sqlite database file.
	DSN string `toml:"dsn"`

	// RedisAddr, when set, moves cluster lock rows into redis.
	RedisAddr string `toml:"redis_addr"`
}

// LockConfig controls cluster lock execution.
type LockConfig struct {
	DefaultTimeout time.Duration `toml:"default_timeout"`
	RetryInitial   time.Duration `toml:"retry_initial"`
	RetryMax       time.Duration `toml:"retry_max"`

	// PoolSize is the number of goroutines running asynchronous lock bodies.
	PoolSize int `toml:"pool_size"`

	// QueueSize bounds pending asynchronous lock bodies.
	QueueSize int `toml:"queue_size"`
}

// DispatchConfig controls work assignment.
type DispatchConfig struct {
	// BatchSize is how many Waiting tasks one queue request considers.
	BatchSize int `toml:"batch_size"`

	// DefaultMaxRetries is the retry budget given to tasks that carry none.
	DefaultMaxRetries int `toml:"default_max_retries"`

	// OrgRateLimit caps dispatches per second per organization. Zero
	// disables throttling.
	OrgRateLimit float64 `toml:"org_rate_limit"`
	OrgRateBurst int     `toml:"org_rate_burst"`

	// Debug sets DEBUG_MODE in every dispatched task environment.
	Debug bool `toml:"debug"`
}

// AnalystConfig controls the remote worker fleet.
type AnalystConfig struct {
	KillTimeout       time.Duration `toml:"kill_timeout"`
	UnresponsiveAfter time.Duration `toml:"unresponsive_after"`
	OrphanAfter       time.Duration `toml:"orphan_after"`
}

// CredentialConfig controls task auth tokens and log upload URLs.
type CredentialConfig struct {
	// SigningSeed is a hex encoded ed25519 seed. Empty generates a key at
	// startup, which only works for single replica deployments.
	SigningSeed string        `toml:"signing_seed"`
	TokenTTL    time.Duration `toml:"token_ttl"`
	LogURLBase  string        `toml:"log_url_base"`
	LogURLTTL   time.Duration `toml:"log_url_ttl"`
}

// MaintenanceConfig holds the cron schedules of cluster maintenance jobs.
type MaintenanceConfig struct {
	LockExpirationSchedule string `toml:"lock_expiration_schedule"`
	UnresponsiveSchedule   string `toml:"unresponsive_schedule"`
	OrphanSchedule         string `toml:"orphan_schedule"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`

	// Audit writes lifecycle audit events to the log.
	Audit bool `toml:"audit"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Lock: LockConfig{
			DefaultTimeout: time.Minute,
			RetryInitial:   100 * time.Millisecond,
			RetryMax:       10 * time.Second,
			PoolSize:       8,
			QueueSize:      64,
		},
		Dispatch: DispatchConfig{
			BatchSize:         10,
			DefaultMaxRetries: 3,
		},
		Analyst: AnalystConfig{
			KillTimeout:       10 * time.Second,
			UnresponsiveAfter: 5 * time.Minute,
			OrphanAfter:       10 * time.Minute,
		},
		Credential: CredentialConfig{
			TokenTTL:   24 * time.Hour,
			LogURLBase: "http://localhost:8080/api/v1/logs",
			LogURLTTL:  time.Hour,
		},
		Maintenance: MaintenanceConfig{
			LockExpirationSchedule: "@every 1m",
			UnresponsiveSchedule:   "@every 1m",
			OrphanSchedule:         "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds a Config from defaults, the TOML file at path (when it
// exists), a .env file in the working directory and ARCHIVIST_*
// environment variables, later sources winning.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("archivist: parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("archivist: stat config %s: %w", path, err)
		}
	}

	_ = godotenv.Load() //nolint:errcheck // .env is optional

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports configuration values the server cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("archivist: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("archivist: store driver %q requires a dsn", c.Store.Driver)
	}
	if c.Dispatch.BatchSize <= 0 {
		return errors.New("archivist: dispatch batch size must be positive")
	}
	if c.Lock.PoolSize <= 0 {
		return errors.New("archivist: lock pool size must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnvString("ARCHIVIST_ADDR", cfg.Server.Addr)
	cfg.Server.ShutdownTimeout = getEnvDuration("ARCHIVIST_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.OperatorToken = getEnvString("ARCHIVIST_OPERATOR_TOKEN", cfg.Server.OperatorToken)

	cfg.Store.Driver = getEnvString("ARCHIVIST_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnvString("ARCHIVIST_STORE_DSN", cfg.Store.DSN)
	cfg.Store.RedisAddr = getEnvString("ARCHIVIST_REDIS_ADDR", cfg.Store.RedisAddr)

	cfg.Lock.DefaultTimeout = getEnvDuration("ARCHIVIST_LOCK_TIMEOUT", cfg.Lock.DefaultTimeout)
	cfg.Lock.PoolSize = getEnvInt("ARCHIVIST_LOCK_POOL_SIZE", cfg.Lock.PoolSize)

	cfg.Dispatch.BatchSize = getEnvInt("ARCHIVIST_DISPATCH_BATCH_SIZE", cfg.Dispatch.BatchSize)
	cfg.Dispatch.Debug = getEnvBool("ARCHIVIST_DEBUG", cfg.Dispatch.Debug)

	cfg.Analyst.UnresponsiveAfter = getEnvDuration("ARCHIVIST_ANALYST_UNRESPONSIVE_AFTER", cfg.Analyst.UnresponsiveAfter)

	cfg.Credential.SigningSeed = getEnvString("ARCHIVIST_SIGNING_SEED", cfg.Credential.SigningSeed)
	cfg.Credential.LogURLBase = getEnvString("ARCHIVIST_LOG_URL_BASE", cfg.Credential.LogURLBase)

	cfg.Logging.Level = getEnvString("ARCHIVIST_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvString("ARCHIVIST_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Audit = getEnvBool("ARCHIVIST_AUDIT", cfg.Logging.Audit)
}

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
