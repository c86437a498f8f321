// Package signer defines the boundary to the hardware signing device. The
// core consults it for exactly two primitives: deriving a public key at a
// BIP32 path, and an authenticated cipher-key-value challenge whose result is
// adopted as the labeling master secret.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Hardened marks a path component as hardened derivation.
const Hardened uint32 = 0x80000000

var (
	// ErrNotConnected indicates no device transport is available.
	ErrNotConnected = errors.New("signer not connected")

	// ErrRejected indicates the user declined the operation on the device.
	ErrRejected = errors.New("request rejected on device")
)

// Labeling challenge constants. These are fixed by the metadata format so
// that independently written clients derive the same master secret.
const (
	LabelingCipherKey   = "Enable labeling?"
	LabelingCipherValue = "fedcba98765432100123456789abcdeffedcba98765432100123456789abcdef"
)

// LabelingPath is the SLIP-0015 keychain path for the labeling challenge.
func LabelingPath() []uint32 {
	return []uint32{Hardened + 10015, Hardened + 0}
}

// AccountNode is the device's answer to a public-key derivation request.
type AccountNode struct {
	PublicKey []byte // 33-byte compressed point
	ChainCode []byte // 32 bytes
	Xpub      string // serialized extended public key
	ChildNum  uint32 // child number of the node (hardened for accounts)
}

// Signer is the hardware signing device, reduced to the two primitives this
// core needs.
type Signer interface {
	// DerivePublicKey derives the public node at the given path.
	DerivePublicKey(ctx context.Context, path []uint32) (*AccountNode, error)

	// CipherKeyValue runs the device's authenticated encrypt challenge and
	// returns the 32-byte result. The same inputs always produce the same
	// output for a given seed.
	CipherKeyValue(ctx context.Context, path []uint32, key string, value []byte) ([]byte, error)
}

// AccountPath returns the account-level path m/purpose'/coin'/account'.
func AccountPath(purpose, coinType, account uint32) []uint32 {
	return []uint32{Hardened + purpose, Hardened + coinType, Hardened + account}
}

// PathString renders a path in the usual m/44'/0'/0'/0/0 notation.
func PathString(path []uint32) string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, p := range path {
		if p >= Hardened {
			fmt.Fprintf(&sb, "/%d'", p-Hardened)
		} else {
			fmt.Fprintf(&sb, "/%d", p)
		}
	}
	return sb.String()
}
