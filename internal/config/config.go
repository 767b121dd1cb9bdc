// Package config loads the application configuration: the reusable core
// section plus the settings of the registration bot.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/abjtutorial/tutorbot/core/config"
	coredatabase "github.com/abjtutorial/tutorbot/core/database"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	redisstore "github.com/abjtutorial/tutorbot/internal/store/redis"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ChannelsConfig names the gated channel and the audit log channel.
type ChannelsConfig struct {
	MainID int64 `yaml:"main_id" envconfig:"MAIN_CHANNEL_ID"`
	LogID  int64 `yaml:"log_id" envconfig:"LOG_CHANNEL_ID"`
}

// ContactConfig is shown on the help screen.
type ContactConfig struct {
	Username string `yaml:"username" envconfig:"CONTACT_USERNAME"`
	Phone    string `yaml:"phone" envconfig:"CONTACT_PHONE"`
}

// PaymentConfig controls payment reference generation.
type PaymentConfig struct {
	IDPrefix string `yaml:"id_prefix" envconfig:"PAYMENT_ID_PREFIX"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
}

// ArchiveConfig configures the S3 compatible screenshot archive.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ARCHIVE_ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"ARCHIVE_ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"ARCHIVE_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"ARCHIVE_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"ARCHIVE_USE_SSL"`
}

// EventsConfig configures the AMQP audit event publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"EVENTS_ENABLED"`
	URL     string `yaml:"url" envconfig:"EVENTS_URL"`
	Queue   string `yaml:"queue" envconfig:"EVENTS_QUEUE"`
}

// JobsConfig holds cron specs and thresholds of the background jobs.
type JobsConfig struct {
	PendingDigest    string        `yaml:"pending_digest" envconfig:"JOBS_PENDING_DIGEST"`
	ReviewStaleAfter time.Duration `yaml:"review_stale_after" envconfig:"JOBS_REVIEW_STALE_AFTER"`
	CommentSweep     string        `yaml:"comment_sweep" envconfig:"JOBS_COMMENT_SWEEP"`
	CommentTTL       time.Duration `yaml:"comment_ttl" envconfig:"JOBS_COMMENT_TTL"`
	SessionSweep     string        `yaml:"session_sweep" envconfig:"JOBS_SESSION_SWEEP"`
	SessionIdle      time.Duration `yaml:"session_idle" envconfig:"JOBS_SESSION_IDLE"`
}

// OpsConfig configures the health and metrics endpoint.
type OpsConfig struct {
	Listen string `yaml:"listen" envconfig:"OPS_LISTEN"`
}

// AppConfig is the full configuration of the bot.
type AppConfig struct {
	coreconfig.Config `yaml:",inline"`

	Channels       ChannelsConfig         `yaml:"channels"`
	Contact        ContactConfig          `yaml:"contact"`
	Payment        PaymentConfig          `yaml:"payment"`
	PaymentMethods []domain.PaymentMethod `yaml:"payment_methods" ignored:"true"`
	Storage        StorageConfig          `yaml:"storage"`
	Database       coredatabase.Config    `yaml:"database"`
	Redis          redisstore.Config      `yaml:"redis"`
	Notify         notify.Options         `yaml:"notify"`
	Archive        ArchiveConfig          `yaml:"archive"`
	Events         EventsConfig           `yaml:"events"`
	Jobs           JobsConfig             `yaml:"jobs"`
	Ops            OpsConfig              `yaml:"ops"`
}

// CoreConfig exposes the embedded core section.
func (c *AppConfig) CoreConfig() *coreconfig.Config { return &c.Config }

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("telegram.admin_ids must list at least one admin")
	}
	if cfg.Channels.MainID == 0 {
		return fmt.Errorf("channels.main_id is required")
	}

	if strings.TrimSpace(cfg.Payment.IDPrefix) == "" {
		cfg.Payment.IDPrefix = "ABJ"
	}
	if len(cfg.PaymentMethods) == 0 {
		cfg.PaymentMethods = domain.DefaultPaymentMethods()
	}
	seen := make(map[string]struct{}, len(cfg.PaymentMethods))
	for _, m := range cfg.PaymentMethods {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("payment_methods contains an entry without a name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("payment_methods lists %q twice", name)
		}
		seen[name] = struct{}{}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.name is required when storage.driver is 'postgres'")
		}
		cfg.Database.Normalize()
	case DriverRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when storage.driver is 'redis'")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: memory, postgres, redis", cfg.Storage.Driver)
	}
	cfg.Storage.Driver = driver

	if cfg.Archive.Enabled {
		if cfg.Archive.Endpoint == "" || cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.endpoint and archive.bucket are required when archive.enabled")
		}
	}
	if cfg.Events.Enabled {
		if cfg.Events.URL == "" {
			return fmt.Errorf("events.url is required when events.enabled")
		}
		if cfg.Events.Queue == "" {
			cfg.Events.Queue = "tutorbot.audit"
		}
	}

	if cfg.Jobs.PendingDigest == "" {
		cfg.Jobs.PendingDigest = "@hourly"
	}
	if cfg.Jobs.ReviewStaleAfter <= 0 {
		cfg.Jobs.ReviewStaleAfter = 24 * time.Hour
	}
	if cfg.Jobs.CommentSweep == "" {
		cfg.Jobs.CommentSweep = "@every 30m"
	}
	if cfg.Jobs.CommentTTL <= 0 {
		cfg.Jobs.CommentTTL = 7 * 24 * time.Hour
	}
	if cfg.Jobs.SessionSweep == "" {
		cfg.Jobs.SessionSweep = "@every 10m"
	}
	if cfg.Jobs.SessionIdle <= 0 {
		cfg.Jobs.SessionIdle = 2 * time.Hour
	}
	return nil
}
