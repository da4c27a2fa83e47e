package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey  string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	AlertHistoryCap int      `mapstructure:"ALERT_HISTORY_CAP"`
	OverrideRateMin float64  `mapstructure:"OVERRIDE_RATE_THRESHOLD"`
	OverrideSamples int      `mapstructure:"OVERRIDE_MIN_SAMPLES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ALERT_HISTORY_CAP", 1000)
	v.SetDefault("OVERRIDE_RATE_THRESHOLD", 0.5)
	v.SetDefault("OVERRIDE_MIN_SAMPLES", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("ALERT_HISTORY_CAP")
	v.BindEnv("OVERRIDE_RATE_THRESHOLD")
	v.BindEnv("OVERRIDE_MIN_SAMPLES")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
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

// Validate checks that the configuration is safe to run. Outside of
// development a JWT signing key must be present so the alert lifecycle
// endpoints are actually authenticated. Alert-manager tunables must stay in
// range because they feed suppression windows and fatigue analytics.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AlertHistoryCap <= 0 {
		return fmt.Errorf("ALERT_HISTORY_CAP must be positive, got %d", c.AlertHistoryCap)
	}
	if c.OverrideRateMin <= 0 || c.OverrideRateMin > 1 {
		return fmt.Errorf("OVERRIDE_RATE_THRESHOLD must be in (0,1], got %v", c.OverrideRateMin)
	}
	if c.OverrideSamples < 1 {
		return fmt.Errorf("OVERRIDE_MIN_SAMPLES must be at least 1, got %d", c.OverrideSamples)
	}
	return nil
}
