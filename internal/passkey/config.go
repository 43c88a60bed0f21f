// Package passkey holds WebAuthn ceremony settings shared by transport and storage.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// SessionKind describes the WebAuthn ceremony purpose.
type SessionKind string

const (
	SessionKindRegistration SessionKind = "registration"
	SessionKindLogin        SessionKind = "login"
)

// AttestationPolicy controls how much attestation data is requested at registration.
type AttestationPolicy string

const (
	AttestationNone     AttestationPolicy = "none"
	AttestationIndirect AttestationPolicy = "indirect"
	AttestationDirect   AttestationPolicy = "direct"
)

// Config controls ceremony behavior across all tenants.
//
// Relying-party identity is per-application; only the operational knobs that
// apply service-wide live here.
type Config struct {
	SessionTTL  time.Duration     `env:"PASSKEYME_WEBAUTHN_SESSION_TTL" envDefault:"2m"`
	Attestation AttestationPolicy `env:"PASSKEYME_WEBAUTHN_ATTESTATION" envDefault:"none"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			SessionTTL:  2 * time.Minute,
			Attestation: AttestationNone,
		}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Minute
	}
	switch cfg.Attestation {
	case AttestationNone, AttestationIndirect, AttestationDirect:
	default:
		cfg.Attestation = AttestationNone
	}
	return cfg
}
