package storage

import (
	"database/sql"
	"fmt"
)

// Address is a derived receive or change address of an account.
type Address struct {
	Account       string
	Address       string
	Change        bool
	Index         uint32
	Label         string
	TotalReceived int64
}

// SaveAddress inserts or updates one address.
func (s *Storage) SaveAddress(a *Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveAddressTx(tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func saveAddressTx(tx *sql.Tx, a *Address) error {
	query := `
		INSERT INTO addresses (account, address, change, address_index, label, total_received)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, address) DO UPDATE SET
			change = excluded.change,
			address_index = excluded.address_index,
			label = coalesce(nullif(excluded.label, ''), label),
			total_received = excluded.total_received
	`
	_, err := tx.Exec(query, a.Account, a.Address, boolToInt(a.Change), a.Index, a.Label, a.TotalReceived)
	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}
	return nil
}

// GetAddresses returns the addresses of one branch of an account, ordered by
// derivation index.
func (s *Storage) GetAddresses(account string, change bool) ([]*Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT account, address, change, address_index, label, total_received
		FROM addresses WHERE account = ? AND change = ?
		ORDER BY address_index ASC
	`
	rows, err := s.db.Query(query, account, boolToInt(change))
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	return scanAddresses(rows)
}

// AllAddresses returns every address of an account, receive branch first.
func (s *Storage) AllAddresses(account string) ([]*Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT account, address, change, address_index, label, total_received
		FROM addresses WHERE account = ?
		ORDER BY change ASC, address_index ASC
	`
	rows, err := s.db.Query(query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	return scanAddresses(rows)
}

// AccountsForAddress returns the ids of accounts that own the given address.
func (s *Storage) AccountsForAddress(address string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT account FROM addresses WHERE address = ?`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to look up address: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateAddressLabel sets the user label of one address.
func (s *Storage) UpdateAddressLabel(account, address, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE addresses SET label = ? WHERE account = ? AND address = ?`,
		label, account, address)
	if err != nil {
		return fmt.Errorf("failed to update address label: %w", err)
	}
	return nil
}

func scanAddresses(rows *sql.Rows) ([]*Address, error) {
	var addrs []*Address
	for rows.Next() {
		var a Address
		var change int
		var label sql.NullString
		err := rows.Scan(&a.Account, &a.Address, &change, &a.Index, &label, &a.TotalReceived)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		a.Change = change != 0
		a.Label = label.String
		addrs = append(addrs, &a)
	}
	return addrs, rows.Err()
}
