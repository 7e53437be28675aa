package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	DirectoryCacheTTL time.Duration `mapstructure:"DIRECTORY_CACHE_TTL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`

	GoogleCredentialsFile string `mapstructure:"GOOGLE_CREDENTIALS_FILE"`

	EmailProvider  string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`
	EmailFromName  string `mapstructure:"EMAIL_FROM_NAME"`
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	AWSRegion      string `mapstructure:"AWS_REGION"`

	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileGrace    time.Duration `mapstructure:"RECONCILE_GRACE"`
}

const (
	EmailLog      = "log"
	EmailSES      = "ses"
	EmailSendGrid = "sendgrid"
)

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "DIRECTORY_CACHE_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "GOOGLE_CREDENTIALS_FILE",
	"EMAIL_PROVIDER", "EMAIL_FROM", "EMAIL_FROM_NAME", "SENDGRID_API_KEY", "AWS_REGION",
	"RECONCILE_INTERVAL", "RECONCILE_GRACE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DIRECTORY_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("EMAIL_PROVIDER", EmailLog)
	v.SetDefault("EMAIL_FROM_NAME", "Telehealth")
	v.SetDefault("RECONCILE_INTERVAL", "0s")
	v.SetDefault("RECONCILE_GRACE", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the settings each enabled integration needs.
func (c *Config) Validate() error {
	switch c.EmailProvider {
	case EmailLog:
		if c.IsProduction() {
			return fmt.Errorf("EMAIL_PROVIDER=log only writes emails to the log and is not allowed in production")
		}
	case EmailSES:
		if c.EmailFrom == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is %q", c.EmailProvider)
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when EMAIL_PROVIDER is %q", EmailSES)
		}
	case EmailSendGrid:
		if c.EmailFrom == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is %q", c.EmailProvider)
		}
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER is %q", EmailSendGrid)
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q, %q or %q, got %q", EmailLog, EmailSES, EmailSendGrid, c.EmailProvider)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.ReconcileInterval > 0 && c.ReconcileGrace <= 0 {
		return fmt.Errorf("RECONCILE_GRACE must be positive when the sweep is enabled")
	}
	return nil
}
