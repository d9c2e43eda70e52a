package config

import (
	"log/slog"
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service. It is built once at start and
// passed by value to every component.
type APIConfig struct {
	Environment        string
	Addr               string
	StoreDriver        string
	DatabaseURL        string
	MigrationsDir      string
	LogLevel           slog.Level
	EventLifetime      time.Duration
	SweepInterval      time.Duration
	AllowedTypes       []string
	AllowedPresences   []string
	NamePrefix         string
	NameLength         int
	AdminToken         string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	RateLimits         RateLimits
	TrustedProxies     []string
	StreamHeartbeat    time.Duration
}

// RateLimits holds per-client request budgets for each route group. Event, form and read
// budgets are per minute, streams per 30 seconds. A negative value disables the group's limit.
type RateLimits struct {
	EventWrites int
	FormWrites  int
	Reads       int
	Streams     int
	Admin       int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		StoreDriver:        strings.ToLower(GetString("STORE_DRIVER", "postgres")),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://punchcard:punchcard@db:5432/punchcard?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		LogLevel:           ParseLevel(GetString("LOG_LEVEL", "info")),
		EventLifetime:      time.Duration(GetInt("EVENT_LIFETIME_SECONDS", 86400)) * time.Second,
		SweepInterval:      time.Duration(GetInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		AllowedTypes:       GetList("SCHEMA_ALLOWED_TYPES", []string{"integer", "string"}),
		AllowedPresences:   GetList("SCHEMA_ALLOWED_PRESENCES", []string{"required", "optional"}),
		NamePrefix:         GetString("NAME_PREFIX", "punchcard:"),
		NameLength:         GetInt("NAME_LENGTH", 5),
		AdminToken:         GetString("ADMIN_TOKEN", ""),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		TrustedProxies:     GetList("TRUSTED_PROXIES", nil),
		StreamHeartbeat:    time.Duration(GetInt("STREAM_HEARTBEAT_SECONDS", 15)) * time.Second,
		RateLimits: RateLimits{
			EventWrites: GetInt("RATE_LIMIT_EVENT_WRITES", 30),
			FormWrites:  GetInt("RATE_LIMIT_FORM_WRITES", 120),
			Reads:       GetInt("RATE_LIMIT_READS", 240),
			Streams:     GetInt("RATE_LIMIT_STREAMS", 30),
			Admin:       GetInt("RATE_LIMIT_ADMIN", 6),
		},
	}
}

// ParseLevel maps a textual log level to slog, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
