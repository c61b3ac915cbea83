package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Dashboard  DashboardConfig
	Scheduling SchedulingConfig
	AuditSweep AuditSweepConfig
	Events     EventsConfig
}

type DatabaseConfig struct {
	// URL, when set, replaces the individual connection fields.
	URL              string
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	StatementTimeout time.Duration
	ConnectAttempts  int
	AutoMigrate      bool
}

type RedisConfig struct {
	Enabled bool
	// URL, when set, replaces Host, Port, Password and DB.
	URL             string
	Host            string
	Port            int
	Password        string
	DB              int
	KeyPrefix       string
	PoolSize        int
	DialTimeout     time.Duration
	ConnectAttempts int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	// RefreshCookie, when true, also hands the refresh token out as an
	// HttpOnly cookie scoped to the auth routes.
	RefreshCookie       bool
	RefreshCookieSecure bool
	RefreshCookieDomain string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DashboardConfig governs cache tuning for dashboards and progress reports.
type DashboardConfig struct {
	CacheTTL  time.Duration
	TenantTTL time.Duration
	Upcoming  int
}

// SchedulingConfig tunes the transactional write paths.
type SchedulingConfig struct {
	TxMaxRetries     int
	TxRetryBase      time.Duration
	MakeupSearchDays int
	Timezone         string
}

// AuditSweepConfig controls the periodic double-booking sweep.
type AuditSweepConfig struct {
	Enabled  bool
	Interval time.Duration
	Workers  int
}

// EventsConfig toggles redis publication of attendance events.
type EventsConfig struct {
	Enabled bool
	Channel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}
	cfg.Database.URL = v.GetString("DATABASE_URL")
	cfg.Database.StatementTimeout = v.GetDuration("DB_STATEMENT_TIMEOUT")
	cfg.Database.ConnectAttempts = v.GetInt("DB_CONNECT_ATTEMPTS")

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}
	cfg.Redis.URL = v.GetString("REDIS_URL")
	cfg.Redis.KeyPrefix = v.GetString("REDIS_KEY_PREFIX")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ConnectAttempts = v.GetInt("REDIS_CONNECT_ATTEMPTS")

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}
	cfg.JWT.RefreshCookie = v.GetBool("REFRESH_COOKIE_ENABLED")
	cfg.JWT.RefreshCookieSecure = v.GetBool("REFRESH_COOKIE_SECURE")
	cfg.JWT.RefreshCookieDomain = v.GetString("REFRESH_COOKIE_DOMAIN")

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL:  parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
		TenantTTL: parseDuration(v.GetString("TENANT_CACHE_TTL"), 30*time.Minute),
		Upcoming:  v.GetInt("DASHBOARD_UPCOMING_LIMIT"),
	}

	cfg.Scheduling = SchedulingConfig{
		TxMaxRetries:     v.GetInt("TX_MAX_RETRIES"),
		TxRetryBase:      parseDuration(v.GetString("TX_RETRY_BASE"), 20*time.Millisecond),
		MakeupSearchDays: v.GetInt("MAKEUP_SEARCH_DAYS"),
		Timezone:         v.GetString("TIMEZONE"),
	}

	cfg.AuditSweep = AuditSweepConfig{
		Enabled:  v.GetBool("AUDIT_SWEEP_ENABLED"),
		Interval: parseDuration(v.GetString("AUDIT_SWEEP_INTERVAL"), time.Hour),
		Workers:  v.GetInt("AUDIT_SWEEP_WORKERS"),
	}

	cfg.Events = EventsConfig{
		Enabled: v.GetBool("EVENTS_ENABLED"),
		Channel: v.GetString("EVENTS_CHANNEL"),
	}

	return cfg, nil
}

// Location resolves the configured scheduling timezone, falling back to UTC.
func (c SchedulingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "drive_school")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "15s")
	v.SetDefault("DB_CONNECT_ATTEMPTS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "ds:")
	v.SetDefault("REDIS_POOL_SIZE", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_CONNECT_ATTEMPTS", 3)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "drive-school-api")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("REFRESH_COOKIE_SECURE", true)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")
	v.SetDefault("TENANT_CACHE_TTL", "30m")
	v.SetDefault("DASHBOARD_UPCOMING_LIMIT", 10)

	v.SetDefault("TX_MAX_RETRIES", 5)
	v.SetDefault("TX_RETRY_BASE", "20ms")
	v.SetDefault("MAKEUP_SEARCH_DAYS", 60)
	v.SetDefault("TIMEZONE", "UTC")

	v.SetDefault("AUDIT_SWEEP_ENABLED", false)
	v.SetDefault("AUDIT_SWEEP_INTERVAL", "1h")
	v.SetDefault("AUDIT_SWEEP_WORKERS", 2)

	v.SetDefault("EVENTS_ENABLED", false)
	v.SetDefault("EVENTS_CHANNEL", "drive-school:events")
}

// viper reports a missing explicit config file as a path error rather than
// ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
