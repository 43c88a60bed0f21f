// Package oauth implements the external provider round trip: authorize URL
// construction, PKCE state handling, code exchange, and profile fetch.
package oauth

import (
	"strings"

	"github.com/passkeyme/passkeyme-server/internal/platform/config"
)

// ProviderConfig describes an external OAuth provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// providerEnv holds raw env values for provider configuration.
type providerEnv struct {
	GoogleClientID     string   `env:"PASSKEYME_OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string   `env:"PASSKEYME_OAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string   `env:"PASSKEYME_OAUTH_GOOGLE_REDIRECT_URI"`
	GoogleScopes       []string `env:"PASSKEYME_OAUTH_GOOGLE_SCOPES" envSeparator:","`
	GitHubClientID     string   `env:"PASSKEYME_OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string   `env:"PASSKEYME_OAUTH_GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI  string   `env:"PASSKEYME_OAUTH_GITHUB_REDIRECT_URI"`
	GitHubScopes       []string `env:"PASSKEYME_OAUTH_GITHUB_SCOPES" envSeparator:","`
}

// LoadProvidersFromEnv builds the provider map from environment variables.
// Providers missing credentials are left out.
func LoadProvidersFromEnv() map[string]ProviderConfig {
	var raw providerEnv
	if err := config.ParseEnv(&raw); err != nil {
		return nil
	}
	return buildProviders(raw)
}

func buildProviders(raw providerEnv) map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	if raw.GoogleClientID != "" && raw.GoogleClientSecret != "" && raw.GoogleRedirectURI != "" {
		scopes := trimCSV(raw.GoogleScopes)
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		providers["google"] = ProviderConfig{
			Name:         "Google",
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURI:  raw.GoogleRedirectURI,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:       scopes,
		}
	}
	if raw.GitHubClientID != "" && raw.GitHubClientSecret != "" && raw.GitHubRedirectURI != "" {
		scopes := trimCSV(raw.GitHubScopes)
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		providers["github"] = ProviderConfig{
			Name:         "GitHub",
			ClientID:     raw.GitHubClientID,
			ClientSecret: raw.GitHubClientSecret,
			RedirectURI:  raw.GitHubRedirectURI,
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			Scopes:       scopes,
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return providers
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
