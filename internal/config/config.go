// Package config provides centralized configuration for the quartermast daemon.
// All tunables (indexer endpoints, gap limit, cloud store, refresh cadence)
// are defined here and passed explicitly to each component at construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType represents the Bitcoin network (mainnet or testnet).
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// CoinType returns the BIP44 coin type for the configured network.
func (n NetworkType) CoinType() uint32 {
	if n == Testnet {
		return 1
	}
	return 0
}

// Config holds all configuration for the daemon.
type Config struct {
	// NetworkType is the network type (mainnet or testnet).
	NetworkType NetworkType `yaml:"network_type"`

	// Indexer settings
	Indexer IndexerConfig `yaml:"indexer"`

	// Discovery settings
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Labeling / cloud metadata settings
	Labeling LabelingConfig `yaml:"labeling"`

	// Signer settings
	Signer SignerConfig `yaml:"signer"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// IndexerConfig holds chain-indexer endpoints.
type IndexerConfig struct {
	// URL is the Blockbook REST API base URL, e.g. "https://btc1.trezor.io/api/v2".
	URL string `yaml:"url"`

	// WebsocketURL is the push-notification endpoint, e.g. "wss://btc1.trezor.io/websocket".
	WebsocketURL string `yaml:"websocket_url"`

	// Timeout for HTTP requests.
	Timeout time.Duration `yaml:"timeout"`
}

// DiscoveryConfig holds account/address discovery settings.
type DiscoveryConfig struct {
	// GapLimit is the number of consecutive unused addresses that ends a branch scan.
	GapLimit uint32 `yaml:"gap_limit"`

	// RefreshInterval is the cadence of periodic full refreshes.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LabelingConfig holds encrypted-metadata sync settings.
type LabelingConfig struct {
	// SecretPassphrase protects the master secret file at rest.
	SecretPassphrase string `yaml:"secret_passphrase,omitempty"`

	// Cloud is the S3-compatible file store holding encrypted metadata blobs.
	Cloud CloudConfig `yaml:"cloud"`
}

// CloudConfig holds S3-compatible object store settings.
type CloudConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"` // empty = AWS default
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`

	// Prefix is prepended to every blob key, e.g. "Apps/quartermast".
	Prefix string `yaml:"prefix"`
}

// SignerConfig holds hardware-signer transport settings.
type SignerConfig struct {
	// Emulate runs a software signer from a BIP39 mnemonic instead of a
	// hardware device. Development and testing only.
	Emulate bool `yaml:"emulate"`

	// EmulatorMnemonic seeds the software signer when Emulate is set.
	EmulatorMnemonic string `yaml:"emulator_mnemonic,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == Testnet
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: Mainnet,
		Indexer: IndexerConfig{
			URL:          "https://btc1.trezor.io/api/v2",
			WebsocketURL: "wss://btc1.trezor.io/websocket",
			Timeout:      30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			GapLimit:        20,
			RefreshInterval: 5 * time.Minute,
		},
		Labeling: LabelingConfig{
			Cloud: CloudConfig{
				Region: "us-east-1",
				Prefix: "Apps/quartermast",
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.quartermast",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Load loads configuration from a YAML file in the data directory.
// If the file doesn't exist, it creates one with default values.
func Load(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# quartermast daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
