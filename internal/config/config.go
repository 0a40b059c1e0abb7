// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	// UserIDFromProfile stores tokens under the lowercased profile id
	UserIDFromProfile = "profile"

	// UserIDFromLensAttribute stores tokens under a Lens metadata attribute
	UserIDFromLensAttribute = "lens_attribute"
)

type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Redis    RedisConfig
	Withings WithingsConfig
	Lens     LensConfig
	Auth     AuthConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Addr        string `env:"SERVER_ADDR" env-default:":9000"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
}

type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

type RedisConfig struct {
	URL       string `env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"medoxie:withings:"`
}

type WithingsConfig struct {
	ClientID     string        `env:"WITHINGS_CLIENT_ID" env-required:"true"`
	ClientSecret string        `env:"WITHINGS_CLIENT_SECRET" env-required:"true"`
	RedirectURI  string        `env:"WITHINGS_REDIRECT_URI" env-required:"true"`
	APIBaseURL   string        `env:"WITHINGS_API_BASE_URL" env-default:"https://wbsapi.withings.net"`
	OAuthBaseURL string        `env:"WITHINGS_OAUTH_BASE_URL" env-default:"https://account.withings.com"`
	Scopes       string        `env:"WITHINGS_SCOPES" env-default:"user.metrics,user.activity,user.sleepevents"`
	HTTPTimeout  time.Duration `env:"WITHINGS_HTTP_TIMEOUT" env-default:"15s"`
}

type LensConfig struct {
	APIURL         string        `env:"LENS_API_URL" env-default:"https://api.lens.xyz/graphql"`
	HTTPTimeout    time.Duration `env:"LENS_HTTP_TIMEOUT" env-default:"10s"`
	UserIDStrategy string        `env:"USER_ID_STRATEGY" env-default:"profile"`
}

type AuthConfig struct {
	TimestampTolerance time.Duration `env:"AUTH_TIMESTAMP_TOLERANCE" env-default:"5m"`
	RefreshWindow      time.Duration `env:"TOKEN_REFRESH_WINDOW" env-default:"30s"`
	StateTTL           time.Duration `env:"OAUTH_STATE_TTL" env-default:"10m"`
}

type EventsConfig struct {
	Enabled bool `env:"EVENTS_ENABLED" env-default:"true"`
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment directly
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks cross-field constraints cleanenv cannot express
func (c *Config) Validate() error {
	if c.IsProduction() && !strings.HasPrefix(c.Withings.RedirectURI, "https://") {
		return errors.New("WITHINGS_REDIRECT_URI must use https in production")
	}

	switch c.Lens.UserIDStrategy {
	case UserIDFromProfile, UserIDFromLensAttribute:
	default:
		return fmt.Errorf("unknown USER_ID_STRATEGY %q", c.Lens.UserIDStrategy)
	}

	if c.Auth.StateTTL < time.Second {
		return errors.New("OAUTH_STATE_TTL must be at least 1s")
	}

	return nil
}
