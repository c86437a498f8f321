package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// Emulator is a software signer backed by a BIP39 mnemonic. It implements the
// same two primitives as the hardware device and is used for development and
// tests. Never load it with a mnemonic holding real funds.
type Emulator struct {
	masterKey *hdkeychain.ExtendedKey
	params    *chaincfg.Params
	mu        sync.Mutex
}

// NewEmulator creates a software signer from a mnemonic.
func NewEmulator(mnemonic, passphrase string, testnet bool) (*Emulator, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	params := &chaincfg.MainNetParams
	if testnet {
		params = &chaincfg.TestNet3Params
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	masterKey, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Emulator{
		masterKey: masterKey,
		params:    params,
	}, nil
}

// DerivePublicKey derives the public node at the given path.
func (e *Emulator) DerivePublicKey(ctx context.Context, path []uint32) (*AccountNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, err := e.deriveNode(path)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	neutered, err := key.Neuter()
	if err != nil {
		return nil, fmt.Errorf("failed to neuter key: %w", err)
	}

	childNum := uint32(0)
	if len(path) > 0 {
		childNum = path[len(path)-1]
	}

	return &AccountNode{
		PublicKey: pubKey.SerializeCompressed(),
		ChainCode: key.ChainCode(),
		Xpub:      neutered.String(),
		ChildNum:  childNum,
	}, nil
}

// CipherKeyValue emulates the device challenge: an HMAC over the fixed
// key/value under the path node's private key. Deterministic per seed, which
// is the property the labeling chain depends on.
func (e *Emulator) CipherKeyValue(ctx context.Context, path []uint32, key string, value []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, err := e.deriveNode(path)
	if err != nil {
		return nil, err
	}

	privKey, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	mac := hmac.New(sha512.New, privKey.Serialize())
	mac.Write([]byte(key))
	mac.Write(value)

	return mac.Sum(nil)[:32], nil
}

// deriveNode walks the path from the master key.
func (e *Emulator) deriveNode(path []uint32) (*hdkeychain.ExtendedKey, error) {
	key := e.masterKey
	for _, p := range path {
		child, err := key.Derive(p)
		if err != nil {
			return nil, fmt.Errorf("failed to derive path component %d: %w", p, err)
		}
		key = child
	}
	return key, nil
}

// Ensure Emulator implements Signer
var _ Signer = (*Emulator)(nil)
