package configs

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DataPlaneConfig configures an enforcement node.
type DataPlaneConfig struct {
	Server       ServerConfig
	ControlPlane ControlPlaneClientConfig
	Limits       LimitsConfig
	PolicyFile   PolicyFileConfig
	Redis        RedisConfig
	Channel      ChannelConfig
	Auth         AuthConfig
	Log          LogConfig
}

// ControlPlaneConfig configures the policy authority.
type ControlPlaneConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Push     PushConfig
	Redis    RedisConfig
	Channel  ChannelConfig
	Auth     AuthConfig
	Log      LogConfig
	// PolicyCacheTTL bounds how long the Redis read cache may serve a policy list.
	PolicyCacheTTL   time.Duration
	AuditLogCapacity int
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TLSCertFile     string
	TLSKeyFile      string
}

type ControlPlaneClientConfig struct {
	URL          string
	SyncInterval time.Duration
	FetchTimeout time.Duration
}

type LimitsConfig struct {
	DefaultLimit         int
	DefaultWindowSeconds int
	Strategy             string // fixed_window or token_bucket
	CounterShards        int
	ReapInterval         time.Duration // 0 disables the reaper
}

type PolicyFileConfig struct {
	Path  string
	Watch bool
}

type DatabaseConfig struct {
	Driver     string // sqlite or postgres
	SQLitePath string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	DSN        string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

// ChannelConfig is the Redis pub/sub channel carrying policy pushes.
type ChannelConfig struct {
	Enabled bool
	Name    string
}

type PushConfig struct {
	DataPlaneURLs     []string
	Timeout           time.Duration
	MaxRetries        int
	ReconcileSchedule string
}

// AuthConfig protects /internal endpoints. An empty secret disables the check.
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string
}

type LogConfig struct {
	Level  string
	Format string // json or text
	// File enables rotated file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LoadDataPlane reads the data plane configuration from the environment (and .env).
func LoadDataPlane() (*DataPlaneConfig, error) {
	_ = godotenv.Load()

	cfg := &DataPlaneConfig{
		Server: loadServer("3001"),
		ControlPlane: ControlPlaneClientConfig{
			URL:          strings.TrimRight(getEnv("CONTROL_PLANE_URL", "http://localhost:3000"), "/"),
			SyncInterval: getDurationEnv("POLICY_SYNC_INTERVAL", 30*time.Second),
			FetchTimeout: getDurationEnv("POLICY_FETCH_TIMEOUT", 5*time.Second),
		},
		Limits: LimitsConfig{
			DefaultLimit:         getIntEnv("DEFAULT_RATE_LIMIT", 100),
			DefaultWindowSeconds: getIntEnv("DEFAULT_RATE_WINDOW_SECONDS", 60),
			Strategy:             strings.ToLower(getEnv("RATE_LIMIT_STRATEGY", StrategyFixedWindow)),
			CounterShards:        getIntEnv("COUNTER_SHARDS", 64),
			ReapInterval:         getDurationEnv("COUNTER_REAP_INTERVAL", time.Minute),
		},
		PolicyFile: PolicyFileConfig{
			Path:  getEnv("POLICY_FILE", ""),
			Watch: getBoolEnv("POLICY_FILE_WATCH", true),
		},
		Redis: loadRedis(),
		Channel: ChannelConfig{
			Enabled: getBoolEnv("POLICY_CHANNEL_ENABLED", false),
			Name:    getEnv("POLICY_CHANNEL", "ratelimit:policies"),
		},
		Auth: loadAuth(),
		Log:  loadLog(),
	}
	// the data plane only dials Redis for the policy channel
	cfg.Redis.Enabled = cfg.Channel.Enabled

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the data plane cannot start without.
func (c *DataPlaneConfig) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.ControlPlane.URL); err != nil {
		errs = append(errs, fmt.Errorf("CONTROL_PLANE_URL: %w", err))
	}
	if c.ControlPlane.SyncInterval <= 0 {
		errs = append(errs, errors.New("POLICY_SYNC_INTERVAL must be positive"))
	}
	if c.ControlPlane.FetchTimeout <= 0 {
		errs = append(errs, errors.New("POLICY_FETCH_TIMEOUT must be positive"))
	}
	if c.Limits.DefaultLimit <= 0 || c.Limits.DefaultWindowSeconds <= 0 {
		errs = append(errs, errors.New("DEFAULT_RATE_LIMIT and DEFAULT_RATE_WINDOW_SECONDS must be positive"))
	}
	if c.Limits.Strategy != StrategyFixedWindow && c.Limits.Strategy != StrategyTokenBucket {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STRATEGY: unknown strategy %q", c.Limits.Strategy))
	}
	if c.Limits.CounterShards <= 0 {
		errs = append(errs, errors.New("COUNTER_SHARDS must be positive"))
	}
	return errors.Join(errs...)
}

// LoadControlPlane reads the control plane configuration from the environment (and .env).
func LoadControlPlane() (*ControlPlaneConfig, error) {
	_ = godotenv.Load()

	cfg := &ControlPlaneConfig{
		Server: loadServer("3000"),
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			SQLitePath:      getEnv("SQLITE_PATH", "ratelimit.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "ratelimit"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Push: PushConfig{
			DataPlaneURLs:     getListEnv("DATA_PLANE_URLS", []string{"http://localhost:3001"}),
			Timeout:           getDurationEnv("PUSH_TIMEOUT", 5*time.Second),
			MaxRetries:        getIntEnv("PUSH_MAX_RETRIES", 3),
			ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 30s"),
		},
		Redis: loadRedis(),
		Channel: ChannelConfig{
			Name: getEnv("POLICY_CHANNEL", "ratelimit:policies"),
		},
		Auth:             loadAuth(),
		Log:              loadLog(),
		PolicyCacheTTL:   getDurationEnv("POLICY_CACHE_TTL", 10*time.Second),
		AuditLogCapacity: getIntEnv("AUDIT_LOG_CAPACITY", 10000),
	}
	cfg.Redis.Enabled = getBoolEnv("REDIS_ENABLED", false)
	// publishing needs Redis; it follows REDIS_ENABLED
	cfg.Channel.Enabled = cfg.Redis.Enabled

	if cfg.Database.Driver == DriverPostgres {
		cfg.Database.DSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.DBName,
			cfg.Database.SSLMode,
		)
	} else {
		cfg.Database.DSN = cfg.Database.SQLitePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the control plane cannot start without.
func (c *ControlPlaneConfig) Validate() error {
	var errs []error
	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("DB_DRIVER: unknown driver %q", c.Database.Driver))
	}
	for _, u := range c.Push.DataPlaneURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			errs = append(errs, fmt.Errorf("DATA_PLANE_URLS: %w", err))
		}
	}
	if c.Push.MaxRetries < 0 {
		errs = append(errs, errors.New("PUSH_MAX_RETRIES must not be negative"))
	}
	if strings.TrimSpace(c.Push.ReconcileSchedule) == "" {
		errs = append(errs, errors.New("RECONCILE_SCHEDULE is required"))
	}
	if c.AuditLogCapacity <= 0 {
		errs = append(errs, errors.New("AUDIT_LOG_CAPACITY must be positive"))
	}
	return errors.Join(errs...)
}

func loadServer(defaultPort string) ServerConfig {
	port := getEnv("SERVER_PORT", "")
	if port == "" {
		// PORT is honoured for platforms that inject it
		port = getEnv("PORT", defaultPort)
	}
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            port,
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		TLSCertFile:     getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:      getEnv("TLS_KEY_FILE", ""),
	}
}

func loadRedis() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnv("REDIS_PORT", "6379"),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getIntEnv("REDIS_DB", 0),
		PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
		MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
		IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
	}
}

func loadAuth() AuthConfig {
	return AuthConfig{
		Secret:   getEnv("INTERNAL_AUTH_SECRET", ""),
		TokenTTL: getDurationEnv("INTERNAL_AUTH_TOKEN_TTL", time.Minute),
		Issuer:   getEnv("INTERNAL_AUTH_ISSUER", "ratelimit-control-plane"),
	}
}

func loadLog() LogConfig {
	return LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  getIntEnv("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getIntEnv("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: getIntEnv("LOG_MAX_AGE_DAYS", 14),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}
