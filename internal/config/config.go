// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	KeepassDatabase string // Path to the KeePass .kdbx file holding the API credentials
	KeepassEntry    string // Entry identifier, may include a group path ("Finance/Trading212")
	KeepassPassword string
	KeepassKeyfile  string // Optional keyfile supplementing the master password
	BaseURL         string
	OutputFile      string
	AccountCurrency string // ISO code applied to records that carry no currency of their own
	LogLevel        string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		KeepassDatabase: getEnv("KEEPASS_DATABASE", ""),
		KeepassEntry:    getEnv("KEEPASS_ENTRY", ""),
		KeepassPassword: getEnv("KEEPASS_PASSWORD", ""),
		KeepassKeyfile:  getEnv("KEEPASS_KEYFILE", ""),
		BaseURL:         getEnv("T212_BASE_URL", "https://live.trading212.com"),
		OutputFile:      getEnv("OUTPUT_FILE", "finanzblick_import_trading212.csv"),
		AccountCurrency: getEnv("ACCOUNT_CURRENCY", "EUR"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.KeepassDatabase == "" {
		return fmt.Errorf("KEEPASS_DATABASE is required")
	}
	if c.KeepassEntry == "" {
		return fmt.Errorf("KEEPASS_ENTRY is required")
	}

	// Resolve the output path up front so a bad destination fails before any fetching
	absOut, err := filepath.Abs(c.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to resolve output file path: %w", err)
	}
	c.OutputFile = absOut

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
