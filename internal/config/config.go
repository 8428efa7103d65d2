package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Email    EmailConfig    `mapstructure:"email"`
	Credits  CreditsConfig  `mapstructure:"credits"`
	Referral ReferralConfig `mapstructure:"referral"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"`
	BaseURL      string   `mapstructure:"base_url"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Path         string `mapstructure:"path"` // sqlite only
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// DSN builds the driver specific connection string.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Path
	default:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
	}
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents   string `mapstructure:"credit_events"`
	ReferralEvents string `mapstructure:"referral_events"`
}

type AuthConfig struct {
	JWKSURL       string `mapstructure:"jwks_url"`
	Issuer        string `mapstructure:"issuer"`
	HMACSecret    string `mapstructure:"hmac_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	AppName      string `mapstructure:"app_name"`
}

type CreditsConfig struct {
	SignupBonus int64         `mapstructure:"signup_bonus"`
	SpendLock   bool          `mapstructure:"spend_lock"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type ReferralConfig struct {
	ReferrerBonus      int64         `mapstructure:"referrer_bonus"`
	ReferredBonus      int64         `mapstructure:"referred_bonus"`
	InviteLimitPerHour int64         `mapstructure:"invite_limit_per_hour"`
	// ApplyWindow bounds how long after signup a code can still be applied.
	// Zero leaves only the no-spend rule.
	ApplyWindow        time.Duration `mapstructure:"apply_window"`
}

type BusinessConfig struct {
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileWindow   time.Duration `mapstructure:"reconcile_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.allow_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "creditledger.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})

	v.SetDefault("kafka.topic.credit_events", "credit-events")
	v.SetDefault("kafka.topic.referral_events", "referral-events")

	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.webhook_secret", "")

	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "BookDigest <invites@bookdigest.app>")
	v.SetDefault("email.app_name", "BookDigest")

	v.SetDefault("credits.signup_bonus", 100)
	v.SetDefault("credits.spend_lock", true)
	v.SetDefault("credits.lock_ttl", 10*time.Second)

	v.SetDefault("referral.referrer_bonus", 100)
	v.SetDefault("referral.referred_bonus", 50)
	v.SetDefault("referral.invite_limit_per_hour", 20)
	v.SetDefault("referral.apply_window", 72*time.Hour)

	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval", 10*time.Minute)
	v.SetDefault("business.reconcile_window", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadConfig reads the YAML file at configPath, then applies .env and
// CREDITLEDGER_* environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREDITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Credits.SignupBonus < 0 || c.Referral.ReferrerBonus < 0 || c.Referral.ReferredBonus < 0 {
		return fmt.Errorf("bonus amounts must not be negative")
	}
	if c.Referral.ApplyWindow < 0 {
		return fmt.Errorf("referral apply window must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}
