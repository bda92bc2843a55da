package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the worker.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Mailer   MailerConfig
	Worker   WorkerConfig
}

// AppConfig controls process level behavior and the ops HTTP surface.
type AppConfig struct {
	Name    string
	Env     string
	Host    string
	Port    string
	Version string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// MailerConfig holds SMTP settings for lifecycle notifications.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// WorkerConfig controls sweep cadence and the due-job runner.
type WorkerConfig struct {
	WaitingSweepSeconds  int
	PausedSweepSeconds   int
	FollowTheSunHours    int
	RunnerPollSeconds    int
	RunnerConcurrency    int
	PhishingProbeSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "cerberus-worker"),
			Env:     getEnv("APP_ENV", "development"),
			Host:    getEnv("APP_HOST", "0.0.0.0"),
			Port:    getEnv("APP_PORT", "8080"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", ""),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Mailer: MailerConfig{
			Host:     getEnv("SMTP_HOST", "127.0.0.1"),
			Port:     smtpPort,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("MAIL_FROM", "abuse@example.com"),
			FromName: getEnv("MAIL_FROM_NAME", "Abuse Desk"),
		},
		Worker: WorkerConfig{
			WaitingSweepSeconds:  getEnvAsInt("WORKER_WAITING_SWEEP_SECONDS", 60),
			PausedSweepSeconds:   getEnvAsInt("WORKER_PAUSED_SWEEP_SECONDS", 60),
			FollowTheSunHours:    getEnvAsInt("WORKER_FOLLOW_THE_SUN_HOURS", 24),
			RunnerPollSeconds:    getEnvAsInt("WORKER_RUNNER_POLL_SECONDS", 1),
			RunnerConcurrency:    getEnvAsInt("WORKER_RUNNER_CONCURRENCY", 4),
			PhishingProbeSeconds: getEnvAsInt("PHISHING_PROBE_TIMEOUT_SECONDS", 10),
		},
	}

	return cfg, nil
}

// Addr returns the ops HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// WaitingSweepInterval returns the waiting sweep cadence.
func (w WorkerConfig) WaitingSweepInterval() time.Duration {
	return time.Duration(w.WaitingSweepSeconds) * time.Second
}

// PausedSweepInterval returns the paused sweep cadence.
func (w WorkerConfig) PausedSweepInterval() time.Duration {
	return time.Duration(w.PausedSweepSeconds) * time.Second
}

// FollowTheSunInterval returns the presence sweep cadence.
func (w WorkerConfig) FollowTheSunInterval() time.Duration {
	return time.Duration(w.FollowTheSunHours) * time.Hour
}

// RunnerPollInterval returns the due-job poll cadence.
func (w WorkerConfig) RunnerPollInterval() time.Duration {
	return time.Duration(w.RunnerPollSeconds) * time.Second
}

// PhishingProbeTimeout returns the per-item probe timeout.
func (w WorkerConfig) PhishingProbeTimeout() time.Duration {
	return time.Duration(w.PhishingProbeSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
