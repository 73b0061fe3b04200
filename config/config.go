// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"crosssell-scanner/pkg/crosssell"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig
	Shopify ShopifyConfig
	Scan    ScanConfig
	Reports ReportsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// ShopifyConfig holds Shopify Admin API credentials and tuning.
// Either a static access token or a client id/secret pair must be set.
type ShopifyConfig struct {
	StoreURL     string        `envconfig:"SHOPIFY_STORE_URL" default:""`
	AccessToken  string        `envconfig:"SHOPIFY_ACCESS_TOKEN" default:""`
	ClientID     string        `envconfig:"SHOPIFY_CLIENT_ID" default:""`
	ClientSecret string        `envconfig:"SHOPIFY_CLIENT_SECRET" default:""`
	RequestPause time.Duration `envconfig:"SHOPIFY_REQUEST_PAUSE" default:"600ms"`
}

// ScanConfig holds the order window and collection targets.
type ScanConfig struct {
	DaysStart     int     `envconfig:"ORDER_DELAY_DAYS_START" default:"173"`
	DaysEnd       int     `envconfig:"ORDER_DELAY_DAYS_END" default:"180"`
	CollectionIDs []int64 `envconfig:"COLLECTION_IDS" default:""`
	DryRun        bool    `envconfig:"DRY_RUN" default:"false"`
}

// ReportsConfig holds run report persistence settings.
// Bucket selects Cloud Storage; LocalPath overrides it for development.
type ReportsConfig struct {
	Bucket    string `envconfig:"REPORT_BUCKET" default:""`
	LocalPath string `envconfig:"LOCAL_REPORTS" default:""`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.Shopify.StoreURL == "" {
		return &crosssell.ConfigError{Reason: "SHOPIFY_STORE_URL is required"}
	}
	if c.Shopify.AccessToken == "" && (c.Shopify.ClientID == "" || c.Shopify.ClientSecret == "") {
		return &crosssell.ConfigError{Reason: "SHOPIFY_ACCESS_TOKEN or SHOPIFY_CLIENT_ID and SHOPIFY_CLIENT_SECRET are required"}
	}
	if len(c.Scan.CollectionIDs) == 0 {
		return &crosssell.ConfigError{Reason: "COLLECTION_IDS is required"}
	}
	if c.Scan.DaysStart < 0 || c.Scan.DaysEnd < c.Scan.DaysStart {
		return &crosssell.ConfigError{Reason: fmt.Sprintf("invalid order window: start=%d end=%d", c.Scan.DaysStart, c.Scan.DaysEnd)}
	}
	return nil
}
