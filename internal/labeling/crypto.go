// Package labeling implements encrypted wallet metadata: account, address
// and output labels stored as AES-256-GCM blobs whose keys derive from the
// hardware signer, synchronized through a cloud file store.
package labeling

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/quartermast-wallet/quartermast/internal/signer"
)

var (
	// ErrAuthentication indicates a metadata blob failed its GCM tag
	// check: wrong key or tampered data.
	ErrAuthentication = errors.New("metadata authentication failed")

	// ErrTransport indicates the cloud file store could not be reached.
	ErrTransport = errors.New("metadata transport failed")
)

// MetadataExt is the file extension of encrypted metadata blobs.
const MetadataExt = ".mtdt"

// labelingConstant is hex: its 16 decoded bytes are HMACed with the
// account key to derive the blob filename and encryption key.
const labelingConstant = "0123456789abcdeffedcba9876543210"

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// AccountSecrets holds the per-account metadata filename and AES key.
type AccountSecrets struct {
	Filename string
	Key      []byte
}

// DeriveMaster obtains the labeling master key from the signer. The signer
// encrypts a fixed key/value pair on the labeling path, so the result is
// stable per seed and requires device confirmation on real hardware.
func DeriveMaster(ctx context.Context, sgn signer.Signer) ([]byte, error) {
	value, err := hex.DecodeString(signer.LabelingCipherValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cipher value: %w", err)
	}
	master, err := sgn.CipherKeyValue(ctx, signer.LabelingPath(), signer.LabelingCipherKey, value)
	if err != nil {
		return nil, fmt.Errorf("failed to derive labeling master key: %w", err)
	}
	return master, nil
}

// DeriveAccountSecrets derives the metadata filename and encryption key for
// one account from the master key and the account xpub.
//
// The account key is the base58check encoding of HMAC-SHA256(master, xpub).
// HMAC-SHA512 of the decoded derivation constant under that key splits into
// the filename (first half, hex) and the AES-256-GCM key (second half).
func DeriveAccountSecrets(master []byte, xpub string) (*AccountSecrets, error) {
	if len(master) == 0 {
		return nil, errors.New("empty master key")
	}
	if xpub == "" {
		return nil, errors.New("empty xpub")
	}

	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(xpub))
	accountKey := base58Check(mac.Sum(nil))

	constant, err := hex.DecodeString(labelingConstant)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation constant: %w", err)
	}
	mac512 := hmac.New(sha512.New, []byte(accountKey))
	mac512.Write(constant)
	digest := mac512.Sum(nil)

	return &AccountSecrets{
		Filename: hex.EncodeToString(digest[:32]) + MetadataExt,
		Key:      digest[32:],
	}, nil
}

// AccountKey derives the shareable per-account key. Knowing it allows
// reading and writing one account's metadata without the master key.
func AccountKey(master []byte, xpub string) string {
	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(xpub))
	return base58Check(mac.Sum(nil))
}

// base58Check appends a 4 byte double-SHA256 checksum and base58 encodes.
func base58Check(b []byte) string {
	checksum := chainhash.DoubleHashB(b)[:4]
	return base58.Encode(append(append([]byte{}, b...), checksum...))
}

// Encrypt seals a plaintext into the metadata blob layout:
// nonce (12 bytes), GCM tag (16 bytes), ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the blob layout wants it
	// before, so re-split.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Decrypt opens a metadata blob. Returns ErrAuthentication when the tag
// does not verify.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: blob too short", ErrAuthentication)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ciphertext := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
