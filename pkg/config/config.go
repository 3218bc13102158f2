package config

import (
	"errors"
	"fmt"
	"time"

	"tutorcall-backend/pkg/constants"
	"tutorcall-backend/pkg/env"
)

// Store backends
const (
	StoreCockroach = "cockroach"
	StoreMemory    = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	Push     PushConfig
	Call     CallConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port             int
	Environment      string // development, staging, production
	ServiceName      string
	RequestTimeout   time.Duration
	AllowedOrigins   []string
	TrustedProxies   []string // IPs or CIDRs allowed to set X-Forwarded-For
	MaxWSConnections int
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration. An empty Host runs without Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds bearer token validation settings
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, console
	Output   string // stdout, file
	FilePath string
}

// PushConfig selects and configures the push provider
type PushConfig struct {
	Provider string // mock, fcm, apns

	FCMProjectID       string
	FCMCredentialsPath string

	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsCertificatePath string
	APNsCertificatePass string
	APNsBundleID        string
	APNsProduction      bool
}

// CallConfig holds call lifecycle settings
type CallConfig struct {
	Store         string // cockroach, memory
	RingTimeout   time.Duration
	SweepSchedule string // robfig/cron spec
	StatsCacheTTL time.Duration
	// SeedUsersFile is a JSON array of users loaded into the memory store
	SeedUsersFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:             env.GetInt("PORT", 8083),
			Environment:      env.GetString("ENV", "development"),
			ServiceName:      env.GetString("SERVICE_NAME", "call-service"),
			RequestTimeout:   env.GetDuration("REQUEST_TIMEOUT", constants.DefaultTimeout),
			AllowedOrigins:   env.GetStringSlice("CORS_ALLOWED_ORIGINS", nil),
			TrustedProxies:   env.GetStringSlice("TRUSTED_PROXIES", nil),
			MaxWSConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "tutorcall"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Issuer:   env.GetString("JWT_ISSUER", "tutorcall-auth"),
			Audience: env.GetString("JWT_AUDIENCE", "tutorcall-api"),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/call-service.log"),
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FCMProjectID:        env.GetString("FCM_PROJECT_ID", ""),
			FCMCredentialsPath:  env.GetString("FCM_CREDENTIALS_PATH", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsCertificatePath: env.GetString("APNS_CERT_PATH", ""),
			APNsCertificatePass: env.GetStringFromFile("APNS_CERT_PASSWORD", ""),
			APNsBundleID:        env.GetString("APNS_BUNDLE_ID", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
		Call: CallConfig{
			Store:         env.GetString("CALL_STORE", StoreCockroach),
			RingTimeout:   env.GetDuration("CALL_RING_TIMEOUT", constants.DefaultRingTimeout),
			SweepSchedule: env.GetString("CALL_SWEEP_SCHEDULE", "@every 15s"),
			StatsCacheTTL: env.GetDuration("CALL_STATS_TTL", constants.DefaultStatsCacheTTL),
			SeedUsersFile: env.GetString("CALL_SEED_USERS_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}

	switch c.Call.Store {
	case StoreCockroach, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("CALL_STORE must be %s or %s, got %q", StoreCockroach, StoreMemory, c.Call.Store))
	}
	if c.Call.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be positive"))
	}
	if c.Call.StatsCacheTTL <= 0 {
		errs = append(errs, errors.New("CALL_STATS_TTL must be positive"))
	}

	switch c.Push.Provider {
	case "mock", "fcm", "apns":
	default:
		errs = append(errs, fmt.Errorf("PUSH_PROVIDER must be mock, fcm or apns, got %q", c.Push.Provider))
	}

	if c.IsProduction() {
		if c.Push.Provider == "mock" {
			errs = append(errs, errors.New("PUSH_PROVIDER=mock is not allowed in production"))
		}
		if c.Call.Store == StoreMemory {
			errs = append(errs, errors.New("CALL_STORE=memory is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}
