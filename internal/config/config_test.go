package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NetworkType != Mainnet {
		t.Errorf("NetworkType = %s, want mainnet", cfg.NetworkType)
	}
	if cfg.Discovery.GapLimit != 20 {
		t.Errorf("GapLimit = %d, want 20", cfg.Discovery.GapLimit)
	}
	if cfg.Indexer.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Indexer.Timeout)
	}
}

func TestCoinType(t *testing.T) {
	if ct := Mainnet.CoinType(); ct != 0 {
		t.Errorf("mainnet coin type = %d, want 0", ct)
	}
	if ct := Testnet.CoinType(); ct != 1 {
		t.Errorf("testnet coin type = %d, want 1", ct)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "quartermast-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discovery.GapLimit != 20 {
		t.Errorf("GapLimit = %d, want 20", cfg.Discovery.GapLimit)
	}

	// A default config file must have been written
	if _, err := os.Stat(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "quartermast-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := DefaultConfig()
	cfg.NetworkType = Testnet
	cfg.Indexer.URL = "https://tbtc1.trezor.io/api/v2"
	cfg.Discovery.GapLimit = 5
	cfg.Labeling.Cloud.Bucket = "metadata"

	if err := cfg.Save(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.NetworkType != Testnet {
		t.Errorf("NetworkType = %s, want testnet", loaded.NetworkType)
	}
	if loaded.Indexer.URL != cfg.Indexer.URL {
		t.Errorf("Indexer.URL = %s, want %s", loaded.Indexer.URL, cfg.Indexer.URL)
	}
	if loaded.Discovery.GapLimit != 5 {
		t.Errorf("GapLimit = %d, want 5", loaded.Discovery.GapLimit)
	}
	if loaded.Labeling.Cloud.Bucket != "metadata" {
		t.Errorf("Bucket = %s, want metadata", loaded.Labeling.Cloud.Bucket)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/.quartermast"); got != filepath.Join(home, ".quartermast") {
		t.Errorf("ExpandPath(~/.quartermast) = %s", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %s", got)
	}
}
