package gotrue

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the GoTrue endpoint configuration.
type Config struct {
	// URL is the project base URL (e.g. "https://xyz.supabase.co").
	URL string

	// AnonKey is the public API key sent with every request.
	AnonKey string

	// JWKSEndpoint overrides the JWKS URL used by the token validator.
	// Default: "{URL}/auth/v1/.well-known/jwks.json".
	JWKSEndpoint string

	// AutoRefresh schedules a token refresh shortly before the session
	// expires. Default: true (set DisableAutoRefresh to turn it off).
	DisableAutoRefresh bool

	// RefreshLeeway is how long before expiry the refresh fires.
	// Default: 60 seconds.
	RefreshLeeway time.Duration

	// Timeout bounds every HTTP call. Default: 10 seconds.
	Timeout time.Duration
}

// Validate reports whether the configuration is usable. A missing URL or
// key refuses construction; the identity layer never runs unconfigured.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("gotrue: project URL is required")
	}
	if strings.TrimSpace(c.AnonKey) == "" {
		return fmt.Errorf("gotrue: anon key is required")
	}
	return nil
}

func (c Config) authURL() string {
	return strings.TrimSuffix(strings.TrimSpace(c.URL), "/") + "/auth/v1"
}

func (c Config) jwksURL() string {
	if c.JWKSEndpoint != "" {
		return c.JWKSEndpoint
	}
	return c.authURL() + "/.well-known/jwks.json"
}

func (c Config) refreshLeeway() time.Duration {
	if c.RefreshLeeway > 0 {
		return c.RefreshLeeway
	}
	return 60 * time.Second
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

// ConfigFromEnv builds a Config from SUPABASE_URL and SUPABASE_ANON_KEY,
// loading a .env file first when one exists.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		URL:     os.Getenv("SUPABASE_URL"),
		AnonKey: os.Getenv("SUPABASE_ANON_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
