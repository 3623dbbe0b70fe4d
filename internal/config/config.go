package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	SpendDeduct = "deduct"
	SpendRetire = "retire"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL,required,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	AdminToken  string `env:"ADMIN_TOKEN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	BlobEndpoint      string `env:"BLOB_ENDPOINT"`
	BlobAccessKey     string `env:"BLOB_ACCESS_KEY"`
	BlobSecretKey     string `env:"BLOB_SECRET_KEY"`
	BlobBucket        string `env:"BLOB_BUCKET" envDefault:"cookies"`
	BlobSecure        bool   `env:"BLOB_SECURE" envDefault:"true"`
	BlobPublicURLBase string `env:"BLOB_PUBLIC_URL_BASE"`

	BoomlifyBaseURL        string `env:"BOOMLIFY_BASE_URL" envDefault:"https://v1.boomlify.com/api/v1"`
	OTPPollIntervalSeconds int    `env:"OTP_POLL_INTERVAL_SECONDS" envDefault:"3"`
	OTPTimeoutSeconds      int    `env:"OTP_TIMEOUT_SECONDS" envDefault:"60"`

	AccountsWithoutCookieLimit int `env:"ACCOUNTS_WITHOUT_COOKIE_LIMIT" envDefault:"5"`
	LeaseCooldownSeconds       int `env:"LEASE_COOLDOWN_SECONDS" envDefault:"300"`
	RateLimitPerMinute         int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	CreditResetCheckSeconds int `env:"CREDIT_RESET_CHECK_SECONDS" envDefault:"3600"`
	CreditResetHour         int `env:"CREDIT_RESET_HOUR" envDefault:"0"`
	WorkerConcurrency       int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	FeloSpendPolicy   string `env:"FELO_SPEND_POLICY" envDefault:"retire"`
	CapCutSpendPolicy string `env:"CAPCUT_SPEND_POLICY" envDefault:"retire"`
	APIKeySpendPolicy string `env:"API_KEY_SPEND_POLICY" envDefault:"deduct"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) LeaseCooldown() time.Duration {
	return time.Duration(c.LeaseCooldownSeconds) * time.Second
}

func (c *Config) OTPPollInterval() time.Duration {
	return time.Duration(c.OTPPollIntervalSeconds) * time.Second
}

func (c *Config) OTPTimeout() time.Duration {
	return time.Duration(c.OTPTimeoutSeconds) * time.Second
}

func (c *Config) CreditResetCheckInterval() time.Duration {
	return time.Duration(c.CreditResetCheckSeconds) * time.Second
}

func (c *Config) BlobEnabled() bool {
	return c.BlobEndpoint != ""
}

func (c *Config) Validate(isProduction bool) error {
	for name, policy := range map[string]string{
		"FELO_SPEND_POLICY":    c.FeloSpendPolicy,
		"CAPCUT_SPEND_POLICY":  c.CapCutSpendPolicy,
		"API_KEY_SPEND_POLICY": c.APIKeySpendPolicy,
	} {
		if policy != SpendDeduct && policy != SpendRetire {
			return fmt.Errorf("%s must be %q or %q, got %q", name, SpendDeduct, SpendRetire, policy)
		}
	}
	if c.AccountsWithoutCookieLimit <= 0 {
		return errors.New("ACCOUNTS_WITHOUT_COOKIE_LIMIT must be positive")
	}
	if c.LeaseCooldownSeconds <= 0 {
		return errors.New("LEASE_COOLDOWN_SECONDS must be positive")
	}
	if c.OTPPollIntervalSeconds <= 0 || c.OTPTimeoutSeconds <= 0 {
		return errors.New("OTP_POLL_INTERVAL_SECONDS and OTP_TIMEOUT_SECONDS must be positive")
	}
	if c.CreditResetHour < 0 || c.CreditResetHour > 23 {
		return errors.New("CREDIT_RESET_HOUR must be between 0 and 23")
	}

	if !c.BlobEnabled() {
		log.Warn().Msg("BLOB_ENDPOINT is empty: cookie uploads for blob-backed pools will fail")
	}

	if isProduction {
		if c.AdminToken == "" {
			log.Warn().Msg("ADMIN_TOKEN is empty in production: /api is not protected")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if strings.HasPrefix(c.DatabaseURL, "sqlite3://") {
			log.Warn().Msg("DATABASE_URL points at sqlite in production: leases are only safe for a single instance")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
