package storage

import (
	"database/sql"
	"fmt"
)

// Transaction types as classified against the owning account.
const (
	TxTypeReceived = "received"
	TxTypeSent     = "sent"
	TxTypeSelf     = "self"
)

// Transaction is a wallet transaction as seen by one account.
type Transaction struct {
	Account     string
	Txid        string
	Type        string
	Value       int64
	Fee         int64
	Size        int64
	BlockHeight int64 // -1 when unconfirmed
	BlockTime   int64
	Inputs      []*TxIn
	Outputs     []*TxOut
}

// Confirmed reports whether the transaction is included in a block.
func (t *Transaction) Confirmed() bool {
	return t.BlockHeight >= 0
}

// TxIn is one input of a stored transaction.
type TxIn struct {
	Index   int
	Address string
	Value   int64
	Mine    bool
}

// TxOut is one output of a stored transaction.
type TxOut struct {
	Index   int
	Address string
	Value   int64
	Mine    bool
	Change  bool
	Label   string
}

// SaveTransaction inserts or updates one transaction with its inputs and
// outputs.
func (s *Storage) SaveTransaction(t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveTransactionTx(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTransactionTx(tx *sql.Tx, t *Transaction) error {
	query := `
		INSERT INTO transactions (account, txid, type, value, fee, size, block_height, block_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, txid) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			fee = excluded.fee,
			size = excluded.size,
			block_height = excluded.block_height,
			block_time = excluded.block_time
	`
	_, err := tx.Exec(query, t.Account, t.Txid, t.Type, t.Value, t.Fee, t.Size,
		t.BlockHeight, t.BlockTime)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	// Inputs and outputs are replaced wholesale. A reorged or re-fetched
	// transaction must not keep stale rows behind.
	if _, err := tx.Exec(`DELETE FROM tx_inputs WHERE account = ? AND txid = ?`, t.Account, t.Txid); err != nil {
		return fmt.Errorf("failed to clear inputs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tx_outputs WHERE account = ? AND txid = ?`, t.Account, t.Txid); err != nil {
		return fmt.Errorf("failed to clear outputs: %w", err)
	}

	for _, in := range t.Inputs {
		_, err := tx.Exec(`
			INSERT INTO tx_inputs (account, txid, idx, address, value, is_mine)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.Account, t.Txid, in.Index, in.Address, in.Value, boolToInt(in.Mine))
		if err != nil {
			return fmt.Errorf("failed to save input: %w", err)
		}
	}
	for _, out := range t.Outputs {
		_, err := tx.Exec(`
			INSERT INTO tx_outputs (account, txid, idx, address, value, is_mine, is_change, label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Account, t.Txid, out.Index, out.Address, out.Value,
			boolToInt(out.Mine), boolToInt(out.Change), out.Label)
		if err != nil {
			return fmt.Errorf("failed to save output: %w", err)
		}
	}
	return nil
}

// SaveRefresh persists the result of one account refresh atomically: the
// address set and the transaction set land in a single database transaction
// so a crash mid-refresh never leaves a partial view.
func (s *Storage) SaveRefresh(account string, addrs []*Address, txs []*Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range addrs {
		if err := saveAddressTx(tx, a); err != nil {
			return err
		}
	}
	for _, t := range txs {
		if err := saveTransactionTx(tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTransaction retrieves one transaction with its inputs and outputs.
// Returns nil if not found.
func (s *Storage) GetTransaction(account, txid string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT account, txid, type, value, fee, size, block_height, block_time
		FROM transactions WHERE account = ? AND txid = ?
	`
	t, err := scanTransaction(s.db.QueryRow(query, account, txid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if err := s.loadInsOuts(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns an account's transactions, unconfirmed first,
// then newest block first.
func (s *Storage) ListTransactions(account string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT account, txid, type, value, fee, size, block_height, block_time
		FROM transactions WHERE account = ?
		ORDER BY CASE WHEN block_height < 0 THEN 1 ELSE 0 END DESC, block_height DESC
	`
	rows, err := s.db.Query(query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range txs {
		if err := s.loadInsOuts(t); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

// TransactionCount returns how many transactions an account has.
func (s *Storage) TransactionCount(account string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account = ?`, account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// UpdateOutputLabel sets the user label of one transaction output.
func (s *Storage) UpdateOutputLabel(account, txid string, idx int, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE tx_outputs SET label = ? WHERE account = ? AND txid = ? AND idx = ?`,
		label, account, txid, idx)
	if err != nil {
		return fmt.Errorf("failed to update output label: %w", err)
	}
	return nil
}

// AccountsWithUnconfirmed returns the ids of accounts holding at least one
// unconfirmed transaction.
func (s *Storage) AccountsWithUnconfirmed() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT DISTINCT account FROM transactions WHERE block_height < 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unconfirmed: %w", err)
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

func (s *Storage) loadInsOuts(t *Transaction) error {
	inRows, err := s.db.Query(`
		SELECT idx, address, value, is_mine FROM tx_inputs
		WHERE account = ? AND txid = ? ORDER BY idx ASC`, t.Account, t.Txid)
	if err != nil {
		return fmt.Errorf("failed to load inputs: %w", err)
	}
	defer inRows.Close()
	for inRows.Next() {
		var in TxIn
		var mine int
		var addr sql.NullString
		if err := inRows.Scan(&in.Index, &addr, &in.Value, &mine); err != nil {
			return err
		}
		in.Address = addr.String
		in.Mine = mine != 0
		t.Inputs = append(t.Inputs, &in)
	}
	if err := inRows.Err(); err != nil {
		return err
	}

	outRows, err := s.db.Query(`
		SELECT idx, address, value, is_mine, is_change, label FROM tx_outputs
		WHERE account = ? AND txid = ? ORDER BY idx ASC`, t.Account, t.Txid)
	if err != nil {
		return fmt.Errorf("failed to load outputs: %w", err)
	}
	defer outRows.Close()
	for outRows.Next() {
		var out TxOut
		var mine, change int
		var addr, label sql.NullString
		if err := outRows.Scan(&out.Index, &addr, &out.Value, &mine, &change, &label); err != nil {
			return err
		}
		out.Address = addr.String
		out.Mine = mine != 0
		out.Change = change != 0
		out.Label = label.String
		t.Outputs = append(t.Outputs, &out)
	}
	return outRows.Err()
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.Account, &t.Txid, &t.Type, &t.Value, &t.Fee, &t.Size,
		&t.BlockHeight, &t.BlockTime)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
