// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for discovered accounts, their
// addresses and transactions.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "quartermast.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Discovered accounts. The id is derived from the account-level public
	-- key, so re-inserting the same account is a no-op on identity.
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		public_key BLOB NOT NULL,
		chain_code BLOB NOT NULL,
		xpub TEXT NOT NULL,
		account_index INTEGER NOT NULL,
		legacy INTEGER NOT NULL DEFAULT 0,
		label TEXT,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_index ON accounts(legacy, account_index);

	-- Derived addresses, dense per (account, change) branch.
	CREATE TABLE IF NOT EXISTS addresses (
		account TEXT NOT NULL,
		address TEXT NOT NULL,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,
		label TEXT,
		total_received INTEGER NOT NULL DEFAULT 0,

		PRIMARY KEY (account, address),
		FOREIGN KEY (account) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_addresses_branch ON addresses(account, change, address_index);
	CREATE INDEX IF NOT EXISTS idx_addresses_address ON addresses(address);

	-- Transactions as classified for one account. block_height < 0 means
	-- unconfirmed; block_time 0 means unknown.
	CREATE TABLE IF NOT EXISTS transactions (
		account TEXT NOT NULL,
		txid TEXT NOT NULL,
		type TEXT NOT NULL,
		value INTEGER NOT NULL,
		fee INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		block_height INTEGER NOT NULL DEFAULT -1,
		block_time INTEGER NOT NULL DEFAULT 0,

		PRIMARY KEY (account, txid),
		FOREIGN KEY (account) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_height ON transactions(account, block_height);

	-- Transaction inputs and outputs, keyed by position.
	CREATE TABLE IF NOT EXISTS tx_inputs (
		account TEXT NOT NULL,
		txid TEXT NOT NULL,
		idx INTEGER NOT NULL,
		address TEXT,
		value INTEGER NOT NULL DEFAULT 0,
		is_mine INTEGER NOT NULL DEFAULT 0,

		PRIMARY KEY (account, txid, idx),
		FOREIGN KEY (account, txid) REFERENCES transactions(account, txid) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tx_outputs (
		account TEXT NOT NULL,
		txid TEXT NOT NULL,
		idx INTEGER NOT NULL,
		address TEXT,
		value INTEGER NOT NULL DEFAULT 0,
		is_mine INTEGER NOT NULL DEFAULT 0,
		is_change INTEGER NOT NULL DEFAULT 0,
		label TEXT,

		PRIMARY KEY (account, txid, idx),
		FOREIGN KEY (account, txid) REFERENCES transactions(account, txid) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tx_outputs_address ON tx_outputs(address);

	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetSetting stores a key/value setting.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, key, value, time.Now().Unix())
	return err
}

// GetSetting retrieves a setting value, or "" if unset.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
