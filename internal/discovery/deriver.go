// Package discovery implements BIP44/BIP49 account discovery: address
// derivation from account-level public keys, gap-limit scanning against a
// chain indexer, and transaction classification.
package discovery

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/quartermast-wallet/quartermast/internal/signer"
)

var (
	// ErrInvalidKey indicates the account public key or chain code could
	// not be parsed into a usable extended key.
	ErrInvalidKey = errors.New("invalid account key")

	// ErrEmptyAccount indicates discovery stopped because the candidate
	// account had no transaction history.
	ErrEmptyAccount = errors.New("account has no transaction history")

	// ErrFetchFailed indicates the chain indexer could not be queried.
	ErrFetchFailed = errors.New("failed to fetch from indexer")
)

// Branch selects the receive or change chain of an account.
type Branch uint32

const (
	BranchReceive Branch = 0
	BranchChange  Branch = 1
)

// Deriver derives addresses from account-level public keys. All derivation
// below the account node is non-hardened, so no private key material is
// needed here.
type Deriver struct {
	params *chaincfg.Params
}

// NewDeriver creates a deriver for the given network.
func NewDeriver(testnet bool) *Deriver {
	params := &chaincfg.MainNetParams
	if testnet {
		params = &chaincfg.TestNet3Params
	}
	return &Deriver{params: params}
}

// Params returns the chain parameters the deriver encodes addresses for.
func (d *Deriver) Params() *chaincfg.Params {
	return d.params
}

// accountKey reconstructs the account-level extended public key from the
// node material returned by the signer.
func (d *Deriver) accountKey(node *signer.AccountNode) (*hdkeychain.ExtendedKey, error) {
	if _, err := btcec.ParsePubKey(node.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(node.ChainCode) != 32 {
		return nil, fmt.Errorf("%w: chain code must be 32 bytes", ErrInvalidKey)
	}

	// Depth 3 and the hardened child number match the account level of a
	// BIP44 path. The parent fingerprint is not needed for derivation.
	key := hdkeychain.NewExtendedKey(
		d.params.HDPublicKeyID[:],
		node.PublicKey,
		node.ChainCode,
		[]byte{0, 0, 0, 0},
		3,
		node.ChildNum,
		false,
	)
	return key, nil
}

// DeriveAddress derives the address at branch/index under the account node.
// Legacy accounts encode P2PKH, segwit accounts encode P2SH-P2WPKH.
func (d *Deriver) DeriveAddress(node *signer.AccountNode, legacy bool, branch Branch, index uint32) (string, error) {
	key, err := d.accountKey(node)
	if err != nil {
		return "", err
	}

	branchKey, err := key.Derive(uint32(branch))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	childKey, err := branchKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pubKey, err := childKey.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	if legacy {
		return encodeP2PKH(pubKey, d.params)
	}
	return encodeP2SHP2WPKH(pubKey, d.params)
}

// DeriveBranch derives addresses 0..count-1 of one branch in order.
func (d *Deriver) DeriveBranch(node *signer.AccountNode, legacy bool, branch Branch, count uint32) ([]string, error) {
	addrs := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		addr, err := d.DeriveAddress(node, legacy, branch, i)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// AccountID derives the stable identifier of an account: the P2PKH style
// address of the account-level public key itself. Two wallets holding the
// same account key always agree on the id.
func (d *Deriver) AccountID(node *signer.AccountNode) (string, error) {
	pubKey, err := btcec.ParsePubKey(node.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return encodeP2PKH(pubKey, d.params)
}

// encodeP2PKH encodes a legacy pay-to-pubkey-hash address.
func encodeP2PKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// encodeP2SHP2WPKH encodes a nested SegWit address (3... on mainnet).
func encodeP2SHP2WPKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create witness address: %w", err)
	}

	witnessScript, err := txscript.PayToAddrScript(witnessAddr)
	if err != nil {
		return "", fmt.Errorf("failed to create witness script: %w", err)
	}

	scriptHash := btcutil.Hash160(witnessScript)
	addr, err := btcutil.NewAddressScriptHashFromHash(scriptHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2SH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// AddressPathString renders the full BIP32 path of one derived address, for
// example "m/49'/0'/0'/0/5".
func AddressPathString(legacy bool, coinType, account uint32, branch Branch, index uint32) string {
	purpose := uint32(49)
	if legacy {
		purpose = 44
	}
	return fmt.Sprintf("%s/%d/%d",
		signer.PathString(signer.AccountPath(purpose, coinType, account)),
		branch, index)
}
