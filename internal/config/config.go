package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/adhocore/gronx"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// Storage backends selectable with STORAGE.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	AuthToken         string
	Storage           string
	DBURL             string
	DBAutoMigrate     bool
	AdminAccount      domain.Name
	MinScore          int
	MaxScore          int
	MinVoters         int
	ChainAPIURL       string
	ChainTimeoutSecs  int
	ChainRPS          float64
	SyncCron          string
	PurgeCron         string
	OTELEndpoint      string
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		AuthToken:         os.Getenv("AUTH_TOKEN"),
		Storage:           getEnv("STORAGE", StoragePostgres),
		DBURL:             os.Getenv("DB_URL"),
		DBAutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		MinScore:          getEnvInt("RATING_MIN_SCORE", 1),
		MaxScore:          getEnvInt("RATING_MAX_SCORE", 10),
		MinVoters:         getEnvInt("RATING_MIN_VOTERS", 21),
		ChainAPIURL:       os.Getenv("CHAIN_API_URL"),
		ChainTimeoutSecs:  getEnvInt("CHAIN_TIMEOUT_SECS", 5),
		ChainRPS:          getEnvFloat("CHAIN_RPS", 10),
		SyncCron:          getEnv("SYNC_CRON", "*/30 * * * *"),
		PurgeCron:         getEnv("PURGE_CRON", "0 3 * * *"),
		OTELEndpoint:      os.Getenv("OTEL_ENDPOINT"),
		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
	}

	admin, err := domain.ParseName(getEnv("ADMIN_ACCOUNT", "rateproducer"))
	if err != nil {
		return Config{}, fmt.Errorf("ADMIN_ACCOUNT is invalid: %w", err)
	}
	cfg.AdminAccount = admin

	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN is required")
	}
	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required")
		}
	case StorageMemory:
	default:
		return Config{}, fmt.Errorf("STORAGE must be %q or %q", StoragePostgres, StorageMemory)
	}
	if cfg.ChainAPIURL == "" {
		return Config{}, fmt.Errorf("CHAIN_API_URL is required")
	}
	if cfg.ChainTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("CHAIN_TIMEOUT_SECS must be positive")
	}
	if cfg.ChainRPS < 0 {
		return Config{}, fmt.Errorf("CHAIN_RPS must be non-negative")
	}
	if cfg.MinScore <= 0 {
		return Config{}, fmt.Errorf("RATING_MIN_SCORE must be positive")
	}
	if cfg.MaxScore < cfg.MinScore {
		return Config{}, fmt.Errorf("RATING_MAX_SCORE cannot be below RATING_MIN_SCORE")
	}
	if cfg.MaxScore > 32767 {
		return Config{}, fmt.Errorf("RATING_MAX_SCORE must fit in a SMALLINT")
	}
	if cfg.MinVoters < 0 {
		return Config{}, fmt.Errorf("RATING_MIN_VOTERS must be non-negative")
	}
	gron := gronx.New()
	if !gron.IsValid(cfg.SyncCron) {
		return Config{}, fmt.Errorf("SYNC_CRON is not a valid cron expression")
	}
	if !gron.IsValid(cfg.PurgeCron) {
		return Config{}, fmt.Errorf("PURGE_CRON is not a valid cron expression")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
