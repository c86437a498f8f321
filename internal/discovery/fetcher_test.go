package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/internal/signer"
)

// fakeIndexer serves scripted per-address activity.
type fakeIndexer struct {
	active  map[string]*indexer.Transaction
	queried map[string]bool
	err     error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		active:  make(map[string]*indexer.Transaction),
		queried: make(map[string]bool),
	}
}

func (f *fakeIndexer) Connect(ctx context.Context) error { return nil }
func (f *fakeIndexer) Close() error                      { return nil }

func (f *fakeIndexer) GetAddressHistory(ctx context.Context, addrs []string) (*indexer.AddressHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := &indexer.AddressHistory{Activity: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, a := range addrs {
		f.queried[a] = true
		tx, ok := f.active[a]
		h.Activity[a] = ok
		if ok && !seen[tx.Txid] {
			seen[tx.Txid] = true
			h.Transactions = append(h.Transactions, *tx)
		}
	}
	return h, nil
}

func (f *fakeIndexer) GetTransaction(ctx context.Context, txid string) (*indexer.Transaction, error) {
	for _, tx := range f.active {
		if tx.Txid == txid {
			return tx, nil
		}
	}
	return nil, indexer.ErrTxNotFound
}

func (f *fakeIndexer) GetInfo(ctx context.Context) (*indexer.Info, error) {
	return &indexer.Info{}, nil
}

var _ indexer.Indexer = (*fakeIndexer)(nil)

func TestScanAccountGapLimit(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)
	idx := newFakeIndexer()

	// Activity on receive indices 0, 3 and 7.
	for i, active := range []uint32{0, 3, 7} {
		addr, err := d.DeriveAddress(node, false, BranchReceive, active)
		if err != nil {
			t.Fatalf("DeriveAddress() error = %v", err)
		}
		idx.active[addr] = &indexer.Transaction{Txid: fmt.Sprintf("tx%d", i)}
	}

	f := NewFetcher(d, idx, 20, nil)
	scan, err := f.ScanAccount(context.Background(), node, false)
	if err != nil {
		t.Fatalf("ScanAccount() error = %v", err)
	}

	if scan.Receive.LastUsed != 7 {
		t.Errorf("Receive.LastUsed = %d, want 7", scan.Receive.LastUsed)
	}
	if len(scan.Receive.Addresses) != 8 {
		t.Errorf("Receive addresses = %d, want 8", len(scan.Receive.Addresses))
	}
	if scan.Change.LastUsed != -1 {
		t.Errorf("Change.LastUsed = %d, want -1", scan.Change.LastUsed)
	}
	// An unused branch still keeps its first address.
	if len(scan.Change.Addresses) != 1 {
		t.Errorf("Change addresses = %d, want 1", len(scan.Change.Addresses))
	}
	if len(scan.Transactions) != 3 {
		t.Errorf("Transactions = %d, want 3", len(scan.Transactions))
	}
	if !scan.HasActivity() {
		t.Errorf("HasActivity() = false, want true")
	}

	// The scan must have queried through index lastUsed+gap and no further.
	beyond, err := d.DeriveAddress(node, false, BranchReceive, 27)
	if err != nil {
		t.Fatalf("DeriveAddress(27) error = %v", err)
	}
	if !idx.queried[beyond] {
		t.Errorf("index 27 not queried, gap window too short")
	}
	past, err := d.DeriveAddress(node, false, BranchReceive, 28)
	if err != nil {
		t.Fatalf("DeriveAddress(28) error = %v", err)
	}
	if idx.queried[past] {
		t.Errorf("index 28 queried, scan overran the gap window")
	}

	// Rescanning the same backing data yields the same result.
	again, err := f.ScanAccount(context.Background(), node, false)
	if err != nil {
		t.Fatalf("ScanAccount() second error = %v", err)
	}
	if again.Receive.LastUsed != scan.Receive.LastUsed {
		t.Errorf("rescan LastUsed = %d, want %d", again.Receive.LastUsed, scan.Receive.LastUsed)
	}
	if len(again.Receive.Addresses) != len(scan.Receive.Addresses) {
		t.Fatalf("rescan addresses = %d, want %d", len(again.Receive.Addresses), len(scan.Receive.Addresses))
	}
	for i, addr := range scan.Receive.Addresses {
		if again.Receive.Addresses[i] != addr {
			t.Errorf("rescan address[%d] = %s, want %s", i, again.Receive.Addresses[i], addr)
		}
	}
	if len(again.Transactions) != len(scan.Transactions) {
		t.Errorf("rescan transactions = %d, want %d", len(again.Transactions), len(scan.Transactions))
	}
}

func TestScanAccountEmpty(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)
	f := NewFetcher(d, newFakeIndexer(), 20, nil)

	scan, err := f.ScanAccount(context.Background(), node, false)
	if err != nil {
		t.Fatalf("ScanAccount() error = %v", err)
	}
	if scan.HasActivity() {
		t.Errorf("HasActivity() = true, want false")
	}
	if len(scan.Receive.Addresses) != 1 || len(scan.Change.Addresses) != 1 {
		t.Errorf("addresses = %d/%d, want 1/1",
			len(scan.Receive.Addresses), len(scan.Change.Addresses))
	}
}

func TestScanAccountDeduplicates(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)
	idx := newFakeIndexer()

	// The same transaction pays the receive and the change branch.
	shared := &indexer.Transaction{Txid: "shared"}
	recv, err := d.DeriveAddress(node, false, BranchReceive, 0)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	chg, err := d.DeriveAddress(node, false, BranchChange, 0)
	if err != nil {
		t.Fatalf("DeriveAddress(change) error = %v", err)
	}
	idx.active[recv] = shared
	idx.active[chg] = shared

	f := NewFetcher(d, idx, 20, nil)
	scan, err := f.ScanAccount(context.Background(), node, false)
	if err != nil {
		t.Fatalf("ScanAccount() error = %v", err)
	}
	if len(scan.Transactions) != 1 {
		t.Errorf("Transactions = %d, want 1", len(scan.Transactions))
	}
	owned := scan.OwnedAddresses()
	if !owned[recv] || !owned[chg] {
		t.Errorf("OwnedAddresses missing scanned addresses")
	}
	if !scan.ChangeAddresses()[chg] {
		t.Errorf("ChangeAddresses missing change address")
	}
}

func TestScanAccountFetchError(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)
	idx := newFakeIndexer()
	idx.err = errors.New("backend down")

	f := NewFetcher(d, idx, 20, nil)
	_, err := f.ScanAccount(context.Background(), node, false)
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("ScanAccount() error = %v, want ErrFetchFailed", err)
	}
}

func TestDiscoverAll(t *testing.T) {
	d := NewDeriver(false)
	idx := newFakeIndexer()

	emu, err := signer.NewEmulator(testMnemonic, "", false)
	if err != nil {
		t.Fatalf("NewEmulator() error = %v", err)
	}

	// Accounts 0 and 1 have history, account 2 is empty.
	for acct := uint32(0); acct < 2; acct++ {
		node := testNode(t, false, 49, 0, acct)
		addr, err := d.DeriveAddress(node, false, BranchReceive, 0)
		if err != nil {
			t.Fatalf("DeriveAddress() error = %v", err)
		}
		idx.active[addr] = &indexer.Transaction{Txid: fmt.Sprintf("acct%d", acct)}
	}

	m := NewManager(emu, d, NewFetcher(d, idx, 20, nil), 0, nil)
	accounts, err := m.DiscoverAll(context.Background(), false)
	if err != nil {
		t.Fatalf("DiscoverAll() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("DiscoverAll() len = %d, want 2", len(accounts))
	}
	if accounts[0].Account.Index != 0 || accounts[1].Account.Index != 1 {
		t.Errorf("account indices = %d, %d, want 0, 1",
			accounts[0].Account.Index, accounts[1].Account.Index)
	}
	if accounts[0].Account.ID == accounts[1].Account.ID {
		t.Errorf("accounts share id %s", accounts[0].Account.ID)
	}
}

func TestDiscoverAllFreshWallet(t *testing.T) {
	d := NewDeriver(false)
	emu, err := signer.NewEmulator(testMnemonic, "", false)
	if err != nil {
		t.Fatalf("NewEmulator() error = %v", err)
	}

	m := NewManager(emu, d, NewFetcher(d, newFakeIndexer(), 20, nil), 0, nil)
	accounts, err := m.DiscoverAll(context.Background(), false)
	if err != nil {
		t.Fatalf("DiscoverAll() error = %v", err)
	}
	// A wallet with no history still gets its first account.
	if len(accounts) != 1 {
		t.Fatalf("DiscoverAll() len = %d, want 1", len(accounts))
	}
	if accounts[0].Scan.HasActivity() {
		t.Errorf("fresh account reports activity")
	}
}

func TestNextAccountRequiresHistory(t *testing.T) {
	d := NewDeriver(false)
	emu, err := signer.NewEmulator(testMnemonic, "", false)
	if err != nil {
		t.Fatalf("NewEmulator() error = %v", err)
	}

	m := NewManager(emu, d, NewFetcher(d, newFakeIndexer(), 20, nil), 0, nil)
	_, err = m.NextAccount(context.Background(), false, 1)
	if !errors.Is(err, ErrEmptyAccount) {
		t.Errorf("NextAccount() error = %v, want ErrEmptyAccount", err)
	}
}
