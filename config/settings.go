package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultPort = "8080"

// Settings is the process configuration, read from the environment (and .env).
type Settings struct {
	Port     string `validate:"required,numeric"`
	GoEnv    string
	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`

	DBDriver          string `validate:"oneof=mysql sqlite"`
	DBUser            string `validate:"required_if=DBDriver mysql"`
	DBPassword        string
	DBHost            string `validate:"required_if=DBDriver mysql"`
	DBPort            string `validate:"required_if=DBDriver mysql"`
	DBName            string `validate:"required_if=DBDriver mysql"`
	SQLitePath        string `validate:"required_if=DBDriver sqlite"`
	DBMaxOpenConns    int    `validate:"gte=0"`
	DBMaxIdleConns    int    `validate:"gte=0"`
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	SkipMigrations    bool

	RedisAddress string
	CacheTTL     time.Duration `validate:"gt=0"`

	SummaryScope       string `validate:"oneof=merchant global"`
	SummaryConcurrency int    `validate:"min=1,max=64"`
	SummaryPruneStale  bool
	SummaryLockTTL     time.Duration `validate:"gt=0"`
	SummaryStatuses    []string

	RateLimitEnabled     bool
	RateLimitMaxRequests int64         `validate:"gt=0"`
	RateLimitWindow      time.Duration `validate:"gt=0"`
	CORSAllowedOrigins   []string

	PubSubProjectID       string
	PubSubCredentialsJSON string
	SummaryRunsTopic      string
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads and validates the environment.
func LoadSettings() (Settings, error) {
	port := strings.TrimSpace(os.Getenv("API_PORT"))
	if port == "" {
		// Cloud Run standard env var.
		port = strings.TrimSpace(os.Getenv("PORT"))
	}
	if port == "" {
		port = defaultPort
	}

	s := Settings{
		Port:     port,
		GoEnv:    strings.TrimSpace(os.Getenv("GO_ENV")),
		LogLevel: strings.ToLower(stringFromEnv("LOG_LEVEL", "info")),

		DBDriver:          strings.ToLower(stringFromEnv("DB_DRIVER", "mysql")),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            stringFromEnv("DB_PORT", "3306"),
		DBName:            os.Getenv("DB_NAME"),
		SQLitePath:        stringFromEnv("DB_SQLITE_PATH", "txsummary.db"),
		DBMaxOpenConns:    intFromEnv("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    intFromEnv("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		DBConnMaxIdleTime: time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
		SkipMigrations:    boolFromEnv("SKIP_MIGRATIONS", false),

		RedisAddress: strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		CacheTTL:     time.Duration(intFromEnv("CACHE_TTL_SECONDS", 300)) * time.Second,

		SummaryScope:       strings.ToLower(stringFromEnv("SUMMARY_SCOPE", "merchant")),
		SummaryConcurrency: intFromEnv("SUMMARY_CONCURRENCY", 4),
		SummaryPruneStale:  boolFromEnv("SUMMARY_PRUNE_STALE", true),
		SummaryLockTTL:     time.Duration(intFromEnv("SUMMARY_LOCK_TTL_SECONDS", 1800)) * time.Second,
		SummaryStatuses:    SplitAndTrim(os.Getenv("SUMMARY_STATUSES")),

		RateLimitEnabled:     boolFromEnv("RATE_LIMIT_ENABLED", false),
		RateLimitMaxRequests: int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
		RateLimitWindow:      time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		CORSAllowedOrigins:   SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),

		PubSubProjectID:       pubSubProjectID(),
		PubSubCredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		SummaryRunsTopic:      strings.TrimSpace(os.Getenv("SUMMARY_RUNS_TOPIC")),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

func (s Settings) IsProduction() bool {
	return strings.EqualFold(s.GoEnv, "production")
}

func pubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}

func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
