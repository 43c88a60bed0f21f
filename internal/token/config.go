// Package token issues and verifies access tokens and rotating refresh tokens.
package token

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes token issuance settings.
type Config struct {
	Issuer     string        `env:"PASSKEYME_TOKEN_ISSUER"      envDefault:"https://auth.passkeyme.com"`
	AccessTTL  time.Duration `env:"PASSKEYME_TOKEN_ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"PASSKEYME_TOKEN_REFRESH_TTL" envDefault:"720h"`
	KeysJSON   string        `env:"PASSKEYME_TOKEN_SIGNING_KEYS"`
	Scope      string        `env:"PASSKEYME_TOKEN_SCOPE"       envDefault:"openid profile email"`
}

// LoadConfigFromEnv returns token configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			Issuer:     "https://auth.passkeyme.com",
			AccessTTL:  time.Hour,
			RefreshTTL: 720 * time.Hour,
			Scope:      "openid profile email",
		}
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 720 * time.Hour
	}
	return cfg
}
