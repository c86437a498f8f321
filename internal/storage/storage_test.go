package storage

import (
	"os"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dir, err := os.MkdirTemp("", "quartermast-storage-test")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAccount(id string, index uint32) *Account {
	return &Account{
		ID:        id,
		PublicKey: []byte{0x02, 0x01, 0x02, 0x03},
		ChainCode: []byte{0x0a, 0x0b},
		Xpub:      "xpub-" + id,
		Index:     index,
	}
}

func TestSaveAccountUpsert(t *testing.T) {
	s := newTestStorage(t)

	a := testAccount("acct1", 0)
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	// Re-saving the same id with a new balance updates, not duplicates.
	a.Balance = 1234
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("SaveAccount() second error = %v", err)
	}

	accounts, err := s.ListAccounts(false)
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("ListAccounts() len = %d, want 1", len(accounts))
	}
	if accounts[0].Balance != 1234 {
		t.Errorf("Balance = %d, want 1234", accounts[0].Balance)
	}
}

func TestSaveAddressMergesLabel(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveAccount(testAccount("acct1", 0)); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	addr := &Address{Account: "acct1", Address: "addr1", Label: "old label"}
	if err := s.SaveAddress(addr); err != nil {
		t.Fatalf("SaveAddress() error = %v", err)
	}

	// A refresh carrying a remote label replaces the stored one.
	addr.Label = "new label"
	addr.TotalReceived = 5000
	if err := s.SaveAddress(addr); err != nil {
		t.Fatalf("SaveAddress() second error = %v", err)
	}
	got, err := s.GetAddresses("acct1", false)
	if err != nil {
		t.Fatalf("GetAddresses() error = %v", err)
	}
	if len(got) != 1 || got[0].Label != "new label" {
		t.Fatalf("label after re-save = %+v, want \"new label\"", got)
	}
	if got[0].TotalReceived != 5000 {
		t.Errorf("TotalReceived = %d, want 5000", got[0].TotalReceived)
	}

	// A refresh without label data keeps the stored label.
	addr.Label = ""
	if err := s.SaveAddress(addr); err != nil {
		t.Fatalf("SaveAddress() third error = %v", err)
	}
	got, err = s.GetAddresses("acct1", false)
	if err != nil {
		t.Fatalf("GetAddresses() error = %v", err)
	}
	if len(got) != 1 || got[0].Label != "new label" {
		t.Fatalf("label after empty re-save = %+v, want \"new label\"", got)
	}
}

func TestGetAccountMissing(t *testing.T) {
	s := newTestStorage(t)

	a, err := s.GetAccount("nope")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if a != nil {
		t.Errorf("GetAccount() = %v, want nil", a)
	}
}

func TestAccountLabels(t *testing.T) {
	a := testAccount("acct1", 0)
	if got := a.DisplayLabel(); got != "Account #1" {
		t.Errorf("DisplayLabel() = %q, want %q", got, "Account #1")
	}

	a.Legacy = true
	a.Index = 2
	if got := a.DisplayLabel(); got != "Legacy Account #3" {
		t.Errorf("DisplayLabel() = %q, want %q", got, "Legacy Account #3")
	}

	a.Label = "Savings"
	if got := a.DisplayLabel(); got != "Savings" {
		t.Errorf("DisplayLabel() = %q, want %q", got, "Savings")
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveAccount(testAccount("acct1", 0)); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}
	addr := &Address{Account: "acct1", Address: "addr1", Index: 0}
	tx := &Transaction{
		Account: "acct1", Txid: "tx1", Type: TxTypeReceived, Value: 5000, BlockHeight: 100,
		Outputs: []*TxOut{{Index: 0, Address: "addr1", Value: 5000, Mine: true}},
	}
	if err := s.SaveRefresh("acct1", []*Address{addr}, []*Transaction{tx}); err != nil {
		t.Fatalf("SaveRefresh() error = %v", err)
	}

	if err := s.DeleteAccount("acct1"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	addrs, err := s.AllAddresses("acct1")
	if err != nil {
		t.Fatalf("AllAddresses() error = %v", err)
	}
	if len(addrs) != 0 {
		t.Errorf("addresses after delete = %d, want 0", len(addrs))
	}
	n, err := s.TransactionCount("acct1")
	if err != nil {
		t.Fatalf("TransactionCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("transactions after delete = %d, want 0", n)
	}
}

func TestSaveRefreshAtomic(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveAccount(testAccount("acct1", 0)); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	addrs := []*Address{
		{Account: "acct1", Address: "addr1", Index: 0, TotalReceived: 100000},
		{Account: "acct1", Address: "addr2", Change: true, Index: 0},
	}
	txs := []*Transaction{
		{
			Account: "acct1", Txid: "tx1", Type: TxTypeReceived, Value: 100000, Fee: 200, BlockHeight: 10,
			Inputs:  []*TxIn{{Index: 0, Address: "ext1", Value: 100200}},
			Outputs: []*TxOut{{Index: 0, Address: "addr1", Value: 100000, Mine: true}},
		},
		{
			Account: "acct1", Txid: "tx2", Type: TxTypeSent, Value: 40000, Fee: 500, BlockHeight: -1,
		},
	}
	if err := s.SaveRefresh("acct1", addrs, txs); err != nil {
		t.Fatalf("SaveRefresh() error = %v", err)
	}

	got, err := s.ListTransactions("acct1")
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListTransactions() len = %d, want 2", len(got))
	}
	// Unconfirmed sorts first.
	if got[0].Txid != "tx2" || got[0].Confirmed() {
		t.Errorf("first tx = %s confirmed=%v, want unconfirmed tx2", got[0].Txid, got[0].Confirmed())
	}
	if len(got[1].Inputs) != 1 || len(got[1].Outputs) != 1 {
		t.Errorf("tx1 ins/outs = %d/%d, want 1/1", len(got[1].Inputs), len(got[1].Outputs))
	}
	if !got[1].Outputs[0].Mine {
		t.Errorf("tx1 output not marked mine")
	}
}

func TestSaveTransactionReplacesInsOuts(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveAccount(testAccount("acct1", 0)); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	tx := &Transaction{
		Account: "acct1", Txid: "tx1", Type: TxTypeReceived, Value: 100, BlockHeight: -1,
		Outputs: []*TxOut{
			{Index: 0, Address: "a", Value: 60},
			{Index: 1, Address: "b", Value: 40},
		},
	}
	if err := s.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	// Confirmation re-save with a single output must not keep stale rows.
	tx.BlockHeight = 500
	tx.Outputs = tx.Outputs[:1]
	if err := s.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction() second error = %v", err)
	}

	got, err := s.GetTransaction("acct1", "tx1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetTransaction() = nil")
	}
	if got.BlockHeight != 500 {
		t.Errorf("BlockHeight = %d, want 500", got.BlockHeight)
	}
	if len(got.Outputs) != 1 {
		t.Errorf("outputs = %d, want 1", len(got.Outputs))
	}
}

func TestAccountsForAddress(t *testing.T) {
	s := newTestStorage(t)

	for _, id := range []string{"acct1", "acct2"} {
		if err := s.SaveAccount(testAccount(id, 0)); err != nil {
			t.Fatalf("SaveAccount(%s) error = %v", id, err)
		}
	}
	if err := s.SaveAddress(&Address{Account: "acct1", Address: "shared", Index: 0}); err != nil {
		t.Fatalf("SaveAddress() error = %v", err)
	}
	if err := s.SaveAddress(&Address{Account: "acct1", Address: "only1", Index: 1}); err != nil {
		t.Fatalf("SaveAddress() error = %v", err)
	}

	ids, err := s.AccountsForAddress("shared")
	if err != nil {
		t.Fatalf("AccountsForAddress() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "acct1" {
		t.Errorf("AccountsForAddress() = %v, want [acct1]", ids)
	}

	ids, err = s.AccountsForAddress("unknown")
	if err != nil {
		t.Fatalf("AccountsForAddress() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("AccountsForAddress(unknown) = %v, want empty", ids)
	}
}

func TestClearLabels(t *testing.T) {
	s := newTestStorage(t)

	a := testAccount("acct1", 0)
	a.Label = "My Account"
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}
	if err := s.SaveAddress(&Address{Account: "acct1", Address: "addr1", Index: 0, Label: "donations"}); err != nil {
		t.Fatalf("SaveAddress() error = %v", err)
	}
	tx := &Transaction{
		Account: "acct1", Txid: "tx1", Type: TxTypeSent, Value: 10, BlockHeight: 1,
		Outputs: []*TxOut{{Index: 0, Address: "x", Value: 10, Label: "rent"}},
	}
	if err := s.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	if err := s.ClearLabels(); err != nil {
		t.Fatalf("ClearLabels() error = %v", err)
	}

	got, err := s.GetAccount("acct1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Label != "" {
		t.Errorf("account label = %q, want empty", got.Label)
	}
	addrs, err := s.AllAddresses("acct1")
	if err != nil {
		t.Fatalf("AllAddresses() error = %v", err)
	}
	if addrs[0].Label != "" {
		t.Errorf("address label = %q, want empty", addrs[0].Label)
	}
	gotTx, err := s.GetTransaction("acct1", "tx1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if gotTx.Outputs[0].Label != "" {
		t.Errorf("output label = %q, want empty", gotTx.Outputs[0].Label)
	}
}

func TestAccountsWithUnconfirmed(t *testing.T) {
	s := newTestStorage(t)

	for _, id := range []string{"acct1", "acct2"} {
		if err := s.SaveAccount(testAccount(id, 0)); err != nil {
			t.Fatalf("SaveAccount(%s) error = %v", id, err)
		}
	}
	if err := s.SaveTransaction(&Transaction{Account: "acct1", Txid: "tx1", Type: TxTypeReceived, Value: 1, BlockHeight: -1}); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}
	if err := s.SaveTransaction(&Transaction{Account: "acct2", Txid: "tx2", Type: TxTypeReceived, Value: 1, BlockHeight: 7}); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	ids, err := s.AccountsWithUnconfirmed()
	if err != nil {
		t.Fatalf("AccountsWithUnconfirmed() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "acct1" {
		t.Errorf("AccountsWithUnconfirmed() = %v, want [acct1]", ids)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStorage(t)

	v, err := s.GetSetting("labeling_enabled")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if v != "" {
		t.Errorf("GetSetting() = %q, want empty", v)
	}

	if err := s.SetSetting("labeling_enabled", "true"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := s.SetSetting("labeling_enabled", "false"); err != nil {
		t.Fatalf("SetSetting() update error = %v", err)
	}

	v, err = s.GetSetting("labeling_enabled")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if v != "false" {
		t.Errorf("GetSetting() = %q, want %q", v, "false")
	}
}
