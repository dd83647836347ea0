package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/agencyledger/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool
	DBTracingEnabled  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LedgerTimezone decides which calendar day a document number belongs to.
	LedgerTimezone       string
	NumberingMaxAttempts int
	IdempotencyTTL       time.Duration

	ReconcileEnabled  bool
	ReconcileInterval time.Duration

	SettingsPath string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	// AlertEmailTo receives critical alerts when SMTP is configured.
	AlertEmailTo []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:              getenv("APP_SERVICE", "agencyledger"),
		AppVersion:           getenv("APP_VERSION", "0.1.0"),
		Environment:          getenv("ENVIRONMENT", "development"),
		HTTPPort:             getenv("HTTP_PORT", "8080"),
		OTLPEndpoint:         getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:               getenv("DATABASE_TYPE", "postgres"),
		DBHost:               getenv("DATABASE_HOST", "localhost"),
		DBPort:               getenv("DATABASE_PORT", "5432"),
		DBName:               getenv("DATABASE_NAME", "agencyledger"),
		DBUser:               getenv("DATABASE_USER", "postgres"),
		DBPassword:           getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:            getenv("DATABASE_SSLMODE", "disable"),
		DBPath:               getenv("DATABASE_PATH", "agencyledger.db"),
		DBMaxIdleConn:        getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:        getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:    getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:    getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBMetricsEnabled:     getenvBool("DATABASE_METRICS_ENABLED", true),
		DBTracingEnabled:     getenvBool("DATABASE_TRACING_ENABLED", true),
		RedisAddr:            strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:        getenv("REDIS_PASSWORD", ""),
		RedisDB:              getenvInt("REDIS_DB", 0),
		LedgerTimezone:       getenv("LEDGER_TIMEZONE", "UTC"),
		NumberingMaxAttempts: getenvInt("NUMBERING_MAX_ATTEMPTS", 5),
		IdempotencyTTL:       time.Duration(getenvInt("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
		ReconcileEnabled:     getenvBool("RECONCILE_ENABLED", true),
		ReconcileInterval:    time.Duration(getenvInt("RECONCILE_INTERVAL_SECONDS", 900)) * time.Second,
		SettingsPath:         strings.TrimSpace(getenv("SETTINGS_PATH", "")),
		SMTPHost:             strings.TrimSpace(getenv("SMTP_HOST", "")),
		SMTPPort:             getenvInt("SMTP_PORT", 587),
		SMTPUsername:         getenv("SMTP_USERNAME", ""),
		SMTPPassword:         getenv("SMTP_PASSWORD", ""),
		SMTPFrom:             getenv("SMTP_FROM", ""),
		AlertEmailTo:         splitList(getenv("ALERT_EMAIL_TO", "")),
	}

	return cfg
}

// AlertMailEnabled reports whether critical alerts are also mailed.
func (c Config) AlertMailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && len(c.AlertEmailTo) > 0
}

// Database projects the connection settings consumed by pkg/db.
func (c Config) Database() db.Config {
	return db.Config{
		Type:            c.DBType,
		Host:            c.DBHost,
		Port:            c.DBPort,
		Name:            c.DBName,
		User:            c.DBUser,
		Password:        c.DBPassword,
		SSLMode:         c.DBSSLMode,
		Path:            c.DBPath,
		MaxIdleConn:     c.DBMaxIdleConn,
		MaxOpenConn:     c.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(c.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(c.DBConnMaxIdleTime) * time.Second,
		SlowThreshold:   200 * time.Millisecond,
		MetricsEnabled:  c.DBMetricsEnabled,
		TracingEnabled:  c.DBTracingEnabled,
	}
}

// Location resolves LedgerTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.LedgerTimezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
