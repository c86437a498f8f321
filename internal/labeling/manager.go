package labeling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/quartermast-wallet/quartermast/internal/config"
	"github.com/quartermast-wallet/quartermast/internal/signer"
	"github.com/quartermast-wallet/quartermast/internal/storage"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// ErrNotEnabled indicates a labeling operation was attempted before
// labeling was enabled.
var ErrNotEnabled = errors.New("labeling is not enabled")

// settingEnabled is the settings key persisting the enabled flag.
const settingEnabled = "labeling_enabled"

// Manager coordinates encrypted metadata: it holds the master key, derives
// per-account secrets, keeps a local blob cache, and syncs blobs with the
// cloud store. Label writes are local first: the database and the cache
// update even when the cloud is unreachable.
type Manager struct {
	store    *storage.Storage
	sgn      signer.Signer
	cloud    FileStore // nil when no cloud is configured
	cacheDir string
	cfg      config.LabelingConfig
	dataDir  string
	log      *logging.Logger

	mu      sync.Mutex
	master  []byte
	cache   *LocalStore
	secrets map[string]*AccountSecrets // keyed by xpub
}

// NewManager creates a labeling manager. cloud may be nil.
func NewManager(store *storage.Storage, sgn signer.Signer, cloud FileStore, dataDir string, cfg config.LabelingConfig, logger *logging.Logger) (*Manager, error) {
	cacheDir := filepath.Join(dataDir, "metadata")
	cache, err := NewLocalStore(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:    store,
		sgn:      sgn,
		cloud:    cloud,
		cacheDir: cacheDir,
		cfg:      cfg,
		dataDir:  dataDir,
		log:      logger,
		cache:    cache,
		secrets:  make(map[string]*AccountSecrets),
	}, nil
}

// Enabled reports whether labeling is currently active.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.master != nil
}

// Init restores labeling state after a restart. When labeling was enabled
// and a passphrase is configured, the master key loads from disk without
// asking the signer again. Otherwise the signer is queried.
func (m *Manager) Init(ctx context.Context) error {
	enabled, err := m.store.GetSetting(settingEnabled)
	if err != nil {
		return err
	}
	if enabled != "true" {
		return nil
	}

	if m.cfg.SecretPassphrase != "" {
		master, err := LoadMasterSecret(m.dataDir, m.cfg.SecretPassphrase)
		if err == nil {
			m.mu.Lock()
			m.master = master
			m.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrFileNotFound) {
			return err
		}
	}

	master, err := DeriveMaster(ctx, m.sgn)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.master = master
	m.mu.Unlock()
	return nil
}

// Enable turns labeling on: the master key is derived through the signer,
// the enabled flag persists, and the key is stored at rest when a
// passphrase is configured.
func (m *Manager) Enable(ctx context.Context) error {
	master, err := DeriveMaster(ctx, m.sgn)
	if err != nil {
		return err
	}

	if err := m.store.SetSetting(settingEnabled, "true"); err != nil {
		return err
	}
	if m.cfg.SecretPassphrase != "" {
		if err := SaveMasterSecret(m.dataDir, master, m.cfg.SecretPassphrase); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.master = master
	m.secrets = make(map[string]*AccountSecrets)
	m.mu.Unlock()

	if err := m.restoreLabels(ctx); err != nil && m.log != nil {
		m.log.Warn("label restore incomplete", "error", err)
	}

	if m.log != nil {
		m.log.Info("labeling enabled")
	}
	return nil
}

// restoreLabels pulls metadata for every known account and merges the
// labels into the database, so enabling on a device that already synced
// elsewhere brings its labels back. Pull failures skip the account.
func (m *Manager) restoreLabels(ctx context.Context) error {
	accounts, err := m.store.AllAccounts()
	if err != nil {
		return err
	}
	var firstErr error
	for _, account := range accounts {
		meta, err := m.Pull(ctx, account)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pull %s: %w", account.ID, err)
			}
			continue
		}
		if meta.AccountLabel != "" {
			if err := m.store.UpdateAccountLabel(account.ID, meta.AccountLabel); err != nil {
				return err
			}
		}
		for address, label := range meta.AddressLabels {
			if err := m.store.UpdateAddressLabel(account.ID, address, label); err != nil {
				return err
			}
		}
		for txid, outputs := range meta.OutputLabels {
			for idxStr, label := range outputs {
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					continue
				}
				if err := m.store.UpdateOutputLabel(account.ID, txid, idx, label); err != nil {
					return err
				}
			}
		}
	}
	return firstErr
}

// Disable turns labeling off: all stored labels clear, the cached blobs
// and the master secret are removed. Cloud blobs are left untouched so
// another device can keep using them.
func (m *Manager) Disable(ctx context.Context) error {
	if err := m.store.ClearLabels(); err != nil {
		return err
	}
	if err := m.store.SetSetting(settingEnabled, "false"); err != nil {
		return err
	}
	if err := RemoveMasterSecret(m.dataDir); err != nil {
		return err
	}
	if err := os.RemoveAll(m.cacheDir); err != nil {
		return err
	}
	cache, err := NewLocalStore(m.cacheDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	secureClear(m.master)
	m.master = nil
	m.secrets = make(map[string]*AccountSecrets)
	m.cache = cache
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("labeling disabled")
	}
	return nil
}

// secretsFor memoizes the per-account secret derivation.
func (m *Manager) secretsFor(xpub string) (*AccountSecrets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.master == nil {
		return nil, ErrNotEnabled
	}
	if sec, ok := m.secrets[xpub]; ok {
		return sec, nil
	}
	sec, err := DeriveAccountSecrets(m.master, xpub)
	if err != nil {
		return nil, err
	}
	m.secrets[xpub] = sec
	return sec, nil
}

// Pull fetches and decrypts the metadata of one account. The cloud store
// is preferred; the local cache backs it. A blob that exists nowhere
// yields empty metadata. A cloud transport failure falls back to the
// cache and only errors when the cache misses too.
func (m *Manager) Pull(ctx context.Context, account *storage.Account) (*AccountMetadata, error) {
	sec, err := m.secretsFor(account.Xpub)
	if err != nil {
		return nil, err
	}

	var blob []byte
	var cloudErr error
	if m.cloud != nil {
		blob, cloudErr = m.cloud.Download(ctx, sec.Filename)
		if cloudErr == nil {
			// Write through so the cache survives cloud outages.
			if err := m.cache.Upload(ctx, sec.Filename, blob); err != nil && m.log != nil {
				m.log.Warn("failed to cache metadata blob", "error", err)
			}
		}
	}
	if blob == nil {
		cached, err := m.cache.Download(ctx, sec.Filename)
		switch {
		case err == nil:
			blob = cached
		case errors.Is(err, ErrFileNotFound):
			if cloudErr != nil && !errors.Is(cloudErr, ErrFileNotFound) {
				return nil, fmt.Errorf("%w: %v", ErrTransport, cloudErr)
			}
			return NewAccountMetadata(), nil
		default:
			return nil, err
		}
	}

	plaintext, err := Decrypt(sec.Key, blob)
	if err != nil {
		return nil, err
	}
	return UnmarshalMetadata(plaintext)
}

// Push encrypts and stores the metadata of one account: the local cache
// always updates, then the cloud. A cloud failure returns ErrTransport but
// leaves the local state written.
func (m *Manager) Push(ctx context.Context, account *storage.Account, meta *AccountMetadata) error {
	sec, err := m.secretsFor(account.Xpub)
	if err != nil {
		return err
	}

	plaintext, err := meta.Marshal()
	if err != nil {
		return err
	}
	blob, err := Encrypt(sec.Key, plaintext)
	if err != nil {
		return err
	}

	if err := m.cache.Upload(ctx, sec.Filename, blob); err != nil {
		return err
	}
	if m.cloud != nil {
		if err := m.cloud.Upload(ctx, sec.Filename, blob); err != nil {
			return err
		}
	}
	return nil
}

// SetAccountLabel updates an account label locally and pushes the change.
func (m *Manager) SetAccountLabel(ctx context.Context, account *storage.Account, label string) error {
	if err := m.store.UpdateAccountLabel(account.ID, label); err != nil {
		return err
	}
	return m.updateMetadata(ctx, account, func(meta *AccountMetadata) {
		meta.AccountLabel = label
	})
}

// SetAddressLabel updates an address label locally and pushes the change.
func (m *Manager) SetAddressLabel(ctx context.Context, account *storage.Account, address, label string) error {
	if err := m.store.UpdateAddressLabel(account.ID, address, label); err != nil {
		return err
	}
	return m.updateMetadata(ctx, account, func(meta *AccountMetadata) {
		meta.SetAddressLabel(address, label)
	})
}

// SetOutputLabel updates a transaction output label locally and pushes the
// change.
func (m *Manager) SetOutputLabel(ctx context.Context, account *storage.Account, txid string, index int, label string) error {
	if err := m.store.UpdateOutputLabel(account.ID, txid, index, label); err != nil {
		return err
	}
	return m.updateMetadata(ctx, account, func(meta *AccountMetadata) {
		meta.SetOutputLabel(txid, index, label)
	})
}

func (m *Manager) updateMetadata(ctx context.Context, account *storage.Account, mutate func(*AccountMetadata)) error {
	meta, err := m.Pull(ctx, account)
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			return err
		}
		// The database already holds the label. Mutate a fresh payload so
		// the cache carries the change until the cloud is reachable.
		if m.log != nil {
			m.log.Warn("metadata pull failed, updating cache only", "error", err)
		}
		meta = NewAccountMetadata()
	}
	mutate(meta)
	return m.Push(ctx, account, meta)
}
