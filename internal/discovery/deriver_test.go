package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/quartermast-wallet/quartermast/internal/signer"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testNode(t *testing.T, testnet bool, purpose, coinType, account uint32) *signer.AccountNode {
	t.Helper()
	emu, err := signer.NewEmulator(testMnemonic, "", testnet)
	if err != nil {
		t.Fatalf("NewEmulator() error = %v", err)
	}
	node, err := emu.DerivePublicKey(context.Background(), signer.AccountPath(purpose, coinType, account))
	if err != nil {
		t.Fatalf("DerivePublicKey() error = %v", err)
	}
	return node
}

func TestDeriveAddressSegwitVector(t *testing.T) {
	// BIP49 test vector: first receive address of m/49'/1'/0' on testnet.
	node := testNode(t, true, 49, 1, 0)
	d := NewDeriver(true)

	addr, err := d.DeriveAddress(node, false, BranchReceive, 0)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	want := "2Mww8dCYPUpKHofjgcXcBCEGmniw9CoaiD2"
	if addr != want {
		t.Errorf("DeriveAddress() = %s, want %s", addr, want)
	}
}

func TestDeriveAddressLegacyVector(t *testing.T) {
	// BIP44 test vector: first receive address of m/44'/0'/0' on mainnet.
	node := testNode(t, false, 44, 0, 0)
	d := NewDeriver(false)

	addr, err := d.DeriveAddress(node, true, BranchReceive, 0)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	want := "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"
	if addr != want {
		t.Errorf("DeriveAddress() = %s, want %s", addr, want)
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)

	a1, err := d.DeriveAddress(node, false, BranchReceive, 5)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	a2, err := d.DeriveAddress(node, false, BranchReceive, 5)
	if err != nil {
		t.Fatalf("DeriveAddress() second error = %v", err)
	}
	if a1 != a2 {
		t.Errorf("derivation not deterministic: %s vs %s", a1, a2)
	}

	change, err := d.DeriveAddress(node, false, BranchChange, 5)
	if err != nil {
		t.Fatalf("DeriveAddress(change) error = %v", err)
	}
	if change == a1 {
		t.Errorf("change address equals receive address: %s", change)
	}
}

func TestDeriveAddressInvalidKey(t *testing.T) {
	d := NewDeriver(false)

	node := &signer.AccountNode{
		PublicKey: []byte{0x00, 0x01, 0x02},
		ChainCode: make([]byte, 32),
		ChildNum:  signer.Hardened,
	}
	_, err := d.DeriveAddress(node, false, BranchReceive, 0)
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveAddress() error = %v, want ErrInvalidKey", err)
	}

	node = testNode(t, false, 49, 0, 0)
	node.ChainCode = []byte{0x01}
	_, err = d.DeriveAddress(node, false, BranchReceive, 0)
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveAddress() short chain code error = %v, want ErrInvalidKey", err)
	}
}

func TestAccountIDStable(t *testing.T) {
	d := NewDeriver(false)

	id1, err := d.AccountID(testNode(t, false, 49, 0, 0))
	if err != nil {
		t.Fatalf("AccountID() error = %v", err)
	}
	id2, err := d.AccountID(testNode(t, false, 49, 0, 0))
	if err != nil {
		t.Fatalf("AccountID() second error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("AccountID not stable: %s vs %s", id1, id2)
	}

	other, err := d.AccountID(testNode(t, false, 49, 0, 1))
	if err != nil {
		t.Fatalf("AccountID(1) error = %v", err)
	}
	if other == id1 {
		t.Errorf("different accounts share id %s", id1)
	}
}

func TestDeriveBranch(t *testing.T) {
	node := testNode(t, false, 49, 0, 0)
	d := NewDeriver(false)

	addrs, err := d.DeriveBranch(node, false, BranchReceive, 5)
	if err != nil {
		t.Fatalf("DeriveBranch() error = %v", err)
	}
	if len(addrs) != 5 {
		t.Fatalf("DeriveBranch() len = %d, want 5", len(addrs))
	}
	seen := make(map[string]bool)
	for _, a := range addrs {
		if seen[a] {
			t.Errorf("duplicate address %s", a)
		}
		seen[a] = true
	}
}

func TestAddressPathString(t *testing.T) {
	tests := []struct {
		legacy  bool
		account uint32
		branch  Branch
		index   uint32
		want    string
	}{
		{false, 0, BranchReceive, 0, "m/49'/0'/0'/0/0"},
		{true, 2, BranchChange, 7, "m/44'/0'/2'/1/7"},
	}
	for _, tt := range tests {
		got := AddressPathString(tt.legacy, 0, tt.account, tt.branch, tt.index)
		if got != tt.want {
			t.Errorf("AddressPathString() = %s, want %s", got, tt.want)
		}
	}
}
