package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all engine configuration.
type Config struct {
	// Server settings
	ListenAddr string `json:"listen_addr"` // e.g. ":8080"

	// Ethereum RPC endpoint for snapshot reads
	EthereumRPC string `json:"ethereum_rpc"` // e.g. "https://eth-mainnet.g.alchemy.com/v2/YOUR_KEY"

	// Social profile API base URL (empty disables score/badge lookups)
	SocialAPIBase string `json:"social_api_base"`

	// Rule catalog file (YAML: tokens, collections, ladder, communities)
	CatalogPath string `json:"catalog_path"`

	// Cache TTL for snapshots and access results, in seconds
	CacheTTLSeconds int `json:"cache_ttl_seconds"`

	// Maximum nesting depth for combined requirements
	MaxRequirementDepth int `json:"max_requirement_depth"`

	// Allowed CORS origin (empty disables CORS headers)
	CORSOrigin string `json:"cors_origin"`
}

// DefaultConfig returns a config with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8080",
		EthereumRPC:         "https://rpc.sepolia.org",
		CatalogPath:         "catalog.yaml",
		CacheTTLSeconds:     45,
		MaxRequirementDepth: 5,
	}
}

// LoadFromFile reads config from a JSON file, applying defaults for missing fields.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.EthereumRPC == "" {
		return fmt.Errorf("ethereum_rpc is required")
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog_path is required")
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("cache_ttl_seconds must be > 0")
	}
	if c.MaxRequirementDepth <= 0 {
		return fmt.Errorf("max_requirement_depth must be > 0")
	}
	return nil
}
