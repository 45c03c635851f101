// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"

	"github.com/basedotnews/basepost/internal/paywall"
)

// Config is the full service configuration. Values come from BASEPOST_*
// environment variables.
type Config struct {
	Port    int    `envconfig:"PORT" default:"8080"`
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// Network is the chain payments settle on ("base" or "base-sepolia").
	Network        string `envconfig:"NETWORK" default:"base-sepolia"`
	FacilitatorURL string `envconfig:"FACILITATOR_URL" required:"true"`

	// PlatformPayTo receives the publishing fee. Empty leaves publishing
	// free.
	PlatformPayTo string `envconfig:"PLATFORM_PAY_TO"`
	PlatformPrice string `envconfig:"PLATFORM_PRICE" default:"$0.01"`

	ArticlesFile string        `envconfig:"ARTICLES_FILE" default:"data/articles.json"`
	RecordsFile  string        `envconfig:"RECORDS_FILE" default:"data/records.db"`
	UploadsDir   string        `envconfig:"UPLOADS_DIR" default:"data/uploads"`
	CatalogTTL   time.Duration `envconfig:"CATALOG_TTL" default:"5s"`

	// Identity resolver endpoints. Empty disables the resolver.
	FarcasterAPIURL string `envconfig:"FARCASTER_API_URL"`
	FarcasterAPIKey string `envconfig:"FARCASTER_API_KEY"`
	ENSAPIURL       string `envconfig:"ENS_API_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("basepost", &cfg); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants envconfig cannot express.
func (c *Config) Validate() error {
	if c.FacilitatorURL == "" {
		return errors.New("BASEPOST_FACILITATOR_URL is required")
	}
	if _, err := paywall.ParseNetwork(c.Network); err != nil {
		return errors.Wrap(err, "BASEPOST_NETWORK")
	}
	if c.PlatformPayTo != "" {
		if !common.IsHexAddress(c.PlatformPayTo) {
			return errors.Newf("BASEPOST_PLATFORM_PAY_TO is not a valid address: %s", c.PlatformPayTo)
		}
		if _, err := paywall.ParseMoney(c.PlatformPrice); err != nil {
			return errors.Wrap(err, "BASEPOST_PLATFORM_PRICE")
		}
	}
	return nil
}

// PaymentNetwork returns the configured network in CAIP-2 form. Call after
// Validate.
func (c *Config) PaymentNetwork() paywall.Network {
	n, _ := paywall.ParseNetwork(c.Network)
	return n
}
