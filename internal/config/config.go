package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const defaultSecret = "Secret"

var knownWeakSecrets = []string{
	defaultSecret, "change-me", "secret", "admin", "password",
}

type Config struct {
	Port                   int    `env:"PORT" envDefault:"5000"`
	Secret                 string `env:"GDS_SECRET" envDefault:"Secret"`
	SecretHash             string `env:"GDS_SECRET_HASH"`
	CORSOrigin             string `env:"CORS_ORIGIN" envDefault:"*"`
	RedisURL               string `env:"REDIS_URL"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	DefaultHomeTeam        string `env:"DEFAULT_HOME_TEAM" envDefault:"Home"`
	DefaultAwayTeam        string `env:"DEFAULT_AWAY_TEAM" envDefault:"Away"`
	DefaultPeriod          string `env:"DEFAULT_PERIOD" envDefault:""`
	AckTimeoutMs           int    `env:"ACK_TIMEOUT_MS" envDefault:"5000"`
	WebhookTimeoutSeconds  int    `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	WebhookRetryMax        int    `env:"WEBHOOK_RETRY_MAX" envDefault:"0"`
	MessageRateLimitPerMin int    `env:"MESSAGE_RATE_LIMIT_PER_MIN" envDefault:"600"`
	UpgradeRateLimitPerMin int    `env:"UPGRADE_RATE_LIMIT_PER_MIN" envDefault:"60"`
	StatsIntervalSeconds   int    `env:"STATS_INTERVAL_SECONDS" envDefault:"60"`
	Environment            string `env:"APP_ENV" envDefault:"development"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

// CORSOrigins splits CORS_ORIGIN into the allowed origin list.
func (c *Config) CORSOrigins() []string {
	if strings.TrimSpace(c.CORSOrigin) == "*" || c.CORSOrigin == "" {
		return []string{"*"}
	}

	var origins []string
	for _, origin := range strings.Split(c.CORSOrigin, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) Validate(isProduction bool) error {
	if c.SecretHash != "" {
		if !strings.HasPrefix(c.SecretHash, "$2a$") &&
			!strings.HasPrefix(c.SecretHash, "$2b$") &&
			!strings.HasPrefix(c.SecretHash, "$2y$") {
			return fmt.Errorf("GDS_SECRET_HASH must be a bcrypt hash (generate with: go run scripts/hash-secret.go <secret>)")
		}
	}

	if c.AckTimeoutMs <= 0 {
		return fmt.Errorf("ACK_TIMEOUT_MS must be positive")
	}
	if c.WebhookRetryMax < 0 {
		return fmt.Errorf("WEBHOOK_RETRY_MAX must not be negative")
	}

	if c.SecretHash == "" {
		if isProduction {
			if err := validateSecret("GDS_SECRET", c.Secret); err != nil {
				return err
			}
		} else if c.Secret == defaultSecret {
			log.Warn().Msg("GDS_SECRET is the built-in default: set a real secret before exposing this server")
		}
	}

	if isProduction && c.RedisURL != "" && strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 16 {
		return fmt.Errorf("%s must be at least 16 characters in production (generate with: openssl rand -base64 24)", name)
	}
	for _, weak := range knownWeakSecrets {
		if strings.EqualFold(value, weak) {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
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
