package application

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// SeedEntry describes one application provisioned from the environment.
//
// The dashboard that normally manages tenants is a separate product surface,
// so deployments seed their applications at startup instead.
type SeedEntry struct {
	ID              string   `json:"app_id"`
	Name            string   `json:"name"`
	RPID            string   `json:"rp_id"`
	Origins         []string `json:"origins"`
	RedirectURIs    []string `json:"redirect_uris"`
	PasskeysEnabled *bool    `json:"passkeys_enabled"`
	Providers       []string `json:"providers"`
	APIKey          string   `json:"api_key"`
}

type seedEnv struct {
	ApplicationsJSON string `env:"PASSKEYME_APPLICATIONS"`
}

// LoadSeedFromEnv parses the PASSKEYME_APPLICATIONS JSON array.
func LoadSeedFromEnv() ([]SeedEntry, error) {
	var raw seedEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse applications env: %w", err)
	}
	if raw.ApplicationsJSON == "" {
		return nil, nil
	}
	var entries []SeedEntry
	if err := json.Unmarshal([]byte(raw.ApplicationsJSON), &entries); err != nil {
		return nil, fmt.Errorf("decode applications json: %w", err)
	}
	return entries, nil
}

// FromSeed converts a seed entry into a persistable application record.
//
// The plaintext API key never reaches storage; only its bcrypt hash does.
func FromSeed(entry SeedEntry) (Application, error) {
	app := Application{
		ID:              entry.ID,
		Name:            entry.Name,
		RPID:            entry.RPID,
		Origins:         entry.Origins,
		RedirectURIs:    entry.RedirectURIs,
		PasskeysEnabled: true,
		Providers:       entry.Providers,
	}
	if entry.PasskeysEnabled != nil {
		app.PasskeysEnabled = *entry.PasskeysEnabled
	}
	if entry.APIKey != "" {
		hash, err := HashAPIKey(entry.APIKey)
		if err != nil {
			return Application{}, fmt.Errorf("hash api key: %w", err)
		}
		app.APIKeyHash = hash
	}
	return Normalize(app)
}
