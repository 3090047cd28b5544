package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"pipeline"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"pipeline"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"pipeline"`

	// Redis — alert dedup and alert-volume budgets. Optional; the alert
	// manager falls back to in-memory bookkeeping when empty.
	RedisURL string `env:"REDIS_URL"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3200"`

	// Kafka — alert outbox delivery
	KafkaBrokers    string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled    bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	AlertTopicPrefix string `env:"ALERT_TOPIC_PREFIX" envDefault:"pipeline.alerts"`

	// Collection
	MaxConcurrentTasks int           `env:"MAX_CONCURRENT_TASKS" envDefault:"5"`
	PlanDeadline       time.Duration `env:"PLAN_DEADLINE" envDefault:"10m"`
	TaskTimeout        time.Duration `env:"TASK_TIMEOUT" envDefault:"90s"`

	// Providers
	ActionNetworkBaseURL string `env:"ACTION_NETWORK_BASE_URL" envDefault:"https://api.actionnetwork.com"`
	VSINBaseURL          string `env:"VSIN_BASE_URL" envDefault:"https://data.vsin.com"`
	SBDBaseURL           string `env:"SBD_BASE_URL" envDefault:"https://www.sportsbettingdime.com"`
	ScheduleBaseURL      string `env:"SCHEDULE_BASE_URL" envDefault:"https://statsapi.mlb.com"`
	UserAgent            string `env:"COLLECTOR_USER_AGENT" envDefault:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"`

	// Alerting
	AlertWebhookURL   string `env:"ALERT_WEBHOOK_URL"`
	AlertEmailTo      string `env:"ALERT_EMAIL_TO"`
	SMTPAddr          string `env:"SMTP_ADDR"`
	GapThresholdHours float64 `env:"GAP_THRESHOLD_HOURS" envDefault:"4"`

	// Synchronization
	SyncWindowSeconds  int  `env:"SYNC_WINDOW_SECONDS" envDefault:"60"`
	SyncMaxSkewSeconds int  `env:"SYNC_MAX_SKEW_SECONDS" envDefault:"300"`
	RequireAllSources  bool `env:"SYNC_REQUIRE_ALL_SOURCES" envDefault:"false"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that cannot run.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1")
	}
	if c.KafkaEnabled && c.KafkaBrokers == "" {
		return fmt.Errorf("KAFKA_ENABLED is set but KAFKA_BROKERS is empty")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
