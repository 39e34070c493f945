package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. LICENSEGATE_PORT.
const Prefix = "LICENSEGATE"

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"licensegate.db"`
	BaseURL   string `envconfig:"BASE_URL"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// AdminKey and CronKey may be plain secrets or bcrypt hashes.
	AdminKey string `envconfig:"ADMIN_KEY"`
	CronKey  string `envconfig:"CRON_KEY"`

	S3       S3Config       `envconfig:"S3"`
	Email    EmailConfig    `envconfig:"EMAIL"`
	Stripe   StripeConfig   `envconfig:"STRIPE"`
	Reminder ReminderConfig `envconfig:"REMINDER"`
	Backup   BackupConfig   `envconfig:"BACKUP"`

	ArtifactPath string `envconfig:"ARTIFACT_PATH" default:"Anchor_v4.zip"`

	RateLimit  int           `envconfig:"RATE_LIMIT" default:"30"`
	RateWindow time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
}

type S3Config struct {
	Endpoint  string `envconfig:"ENDPOINT"`
	Bucket    string `envconfig:"BUCKET" default:"ea-secure"`
	Region    string `envconfig:"REGION" default:"us-east-1"`
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
}

type EmailConfig struct {
	PostmarkToken string `envconfig:"POSTMARK_TOKEN"`
	From          string `envconfig:"FROM"`
	Product       string `envconfig:"PRODUCT" default:"Anchor"`
	Support       string `envconfig:"SUPPORT"`
	SiteURL       string `envconfig:"SITE_URL"`
}

type StripeConfig struct {
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
}

type ReminderConfig struct {
	Enabled     bool `envconfig:"ENABLED" default:"false"`
	OffsetHours int  `envconfig:"OFFSET_HOURS" default:"9"`
	Hour        int  `envconfig:"HOUR" default:"10"`
}

type BackupConfig struct {
	Enabled       bool   `envconfig:"ENABLED" default:"false"`
	Passphrase    string `envconfig:"PASSPHRASE"`
	Prefix        string `envconfig:"PREFIX" default:"backups/"`
	Hour          int    `envconfig:"HOUR" default:"3"`
	RetentionDays int    `envconfig:"RETENTION_DAYS" default:"30"`
}

// Retention is how long uploaded snapshots are kept.
func (b BackupConfig) Retention() time.Duration {
	return time.Duration(b.RetentionDays) * 24 * time.Hour
}

// Offset is the business time zone offset as a duration.
func (r ReminderConfig) Offset() time.Duration {
	return time.Duration(r.OffsetHours) * time.Hour
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Reminder.OffsetHours < -12 || c.Reminder.OffsetHours > 14 {
		return fmt.Errorf("reminder offset %dh out of range", c.Reminder.OffsetHours)
	}
	if c.Reminder.Hour < 0 || c.Reminder.Hour > 23 {
		return fmt.Errorf("reminder hour %d out of range", c.Reminder.Hour)
	}
	if c.Backup.Enabled {
		if c.Backup.Passphrase == "" {
			return fmt.Errorf("backup passphrase is required when backups are enabled")
		}
		if c.Backup.Hour < 0 || c.Backup.Hour > 23 {
			return fmt.Errorf("backup hour %d out of range", c.Backup.Hour)
		}
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}
