package labeling

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the master secret file.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32
)

// masterSecretFile is the filename of the encrypted master key.
const masterSecretFile = "labeling.key"

// encryptedSecret is the on-disk form of the labeling master key,
// protected with Argon2id + AES-256-GCM under a local passphrase.
type encryptedSecret struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// SaveMasterSecret encrypts the master key with the passphrase and writes
// it under dataDir. The master key then survives restarts without asking
// the signer again.
func SaveMasterSecret(dataDir string, master []byte, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("empty passphrase")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	defer secureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	enc := &encryptedSecret{
		Version:     1,
		Ciphertext:  gcm.Seal(nil, nonce, master, nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}

	data, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, masterSecretFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	return nil
}

// LoadMasterSecret decrypts the stored master key. Returns ErrFileNotFound
// when no secret has been saved.
func LoadMasterSecret(dataDir, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, masterSecretFile))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	var enc encryptedSecret
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), enc.Salt, enc.Time, enc.Memory, enc.Parallelism, argon2KeyLen)
	defer secureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	master, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupt secret file", ErrAuthentication)
	}
	return master, nil
}

// RemoveMasterSecret deletes the stored master key, if any.
func RemoveMasterSecret(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, masterSecretFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// secureClear overwrites a byte slice with zeros.
func secureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
