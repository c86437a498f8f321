package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Account is a discovered BIP44/BIP49 account.
type Account struct {
	ID        string
	PublicKey []byte
	ChainCode []byte
	Xpub      string
	Index     uint32
	Legacy    bool
	Label     string
	Balance   int64
	CreatedAt time.Time
}

// DefaultLabel returns the label shown when no user label is set.
func (a *Account) DefaultLabel() string {
	if a.Legacy {
		return fmt.Sprintf("Legacy Account #%d", a.Index+1)
	}
	return fmt.Sprintf("Account #%d", a.Index+1)
}

// DisplayLabel returns the user label if set, otherwise the default one.
func (a *Account) DisplayLabel() string {
	if a.Label != "" {
		return a.Label
	}
	return a.DefaultLabel()
}

// SaveAccount inserts or updates an account.
func (s *Storage) SaveAccount(a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, public_key, chain_code, xpub, account_index, legacy, label, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			public_key = excluded.public_key,
			chain_code = excluded.chain_code,
			xpub = excluded.xpub,
			account_index = excluded.account_index,
			legacy = excluded.legacy,
			balance = excluded.balance
	`
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(query,
		a.ID, a.PublicKey, a.ChainCode, a.Xpub, a.Index,
		boolToInt(a.Legacy), a.Label, a.Balance, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id. Returns nil if not found.
func (s *Storage) GetAccount(id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, public_key, chain_code, xpub, account_index, legacy, label, balance, created_at
		FROM accounts WHERE id = ?
	`
	a, err := scanAccount(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts of one type, ordered by index.
func (s *Storage) ListAccounts(legacy bool) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, public_key, chain_code, xpub, account_index, legacy, label, balance, created_at
		FROM accounts WHERE legacy = ? ORDER BY account_index ASC
	`
	rows, err := s.db.Query(query, boolToInt(legacy))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AllAccounts returns every account, legacy first, ordered by index.
func (s *Storage) AllAccounts() ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, public_key, chain_code, xpub, account_index, legacy, label, balance, created_at
		FROM accounts ORDER BY legacy DESC, account_index ASC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and, via cascade, its addresses and
// transactions.
func (s *Storage) DeleteAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// UpdateAccountBalance sets the cached balance of an account.
func (s *Storage) UpdateAccountBalance(id string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE accounts SET balance = ? WHERE id = ?`, balance, id)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

// UpdateAccountLabel sets the user label of an account.
func (s *Storage) UpdateAccountLabel(id, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE accounts SET label = ? WHERE id = ?`, label, id)
	if err != nil {
		return fmt.Errorf("failed to update account label: %w", err)
	}
	return nil
}

// ClearLabels removes all account, address and output labels. Used when
// labeling is disabled.
func (s *Storage) ClearLabels() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`UPDATE accounts SET label = ''`,
		`UPDATE addresses SET label = ''`,
		`UPDATE tx_outputs SET label = ''`,
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("failed to clear labels: %w", err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var legacy int
	var label sql.NullString
	var createdAt int64
	err := row.Scan(&a.ID, &a.PublicKey, &a.ChainCode, &a.Xpub, &a.Index,
		&legacy, &label, &a.Balance, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Legacy = legacy != 0
	a.Label = label.String
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
