package discovery

import (
	"context"
	"fmt"

	"github.com/quartermast-wallet/quartermast/internal/signer"
	"github.com/quartermast-wallet/quartermast/internal/storage"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// Manager runs BIP44 account discovery against a signer and a chain
// indexer: it walks account indices per purpose, scans each candidate, and
// stops at the first account without history.
type Manager struct {
	signer   signer.Signer
	deriver  *Deriver
	fetcher  *Fetcher
	coinType uint32
	log      *logging.Logger
}

// NewManager creates a discovery manager.
func NewManager(sgn signer.Signer, deriver *Deriver, fetcher *Fetcher, coinType uint32, logger *logging.Logger) *Manager {
	return &Manager{
		signer:   sgn,
		deriver:  deriver,
		fetcher:  fetcher,
		coinType: coinType,
		log:      logger,
	}
}

// DiscoveredAccount pairs a discovered account with its scan result.
type DiscoveredAccount struct {
	Account *storage.Account
	Node    *signer.AccountNode
	Scan    *AccountScan
}

// Purpose returns the BIP43 purpose used for one account type.
func Purpose(legacy bool) uint32 {
	if legacy {
		return 44
	}
	return 49
}

// DiscoverAccount derives and scans the account at one index. The scan may
// be empty; the caller decides whether an empty account is acceptable.
func (m *Manager) DiscoverAccount(ctx context.Context, legacy bool, index uint32) (*DiscoveredAccount, error) {
	path := signer.AccountPath(Purpose(legacy), m.coinType, index)
	node, err := m.signer.DerivePublicKey(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account %s: %w", signer.PathString(path), err)
	}

	id, err := m.deriver.AccountID(node)
	if err != nil {
		return nil, err
	}

	scan, err := m.fetcher.ScanAccount(ctx, node, legacy)
	if err != nil {
		return nil, err
	}

	return &DiscoveredAccount{
		Account: &storage.Account{
			ID:        id,
			PublicKey: node.PublicKey,
			ChainCode: node.ChainCode,
			Xpub:      node.Xpub,
			Index:     node.ChildNum - signer.Hardened,
			Legacy:    legacy,
		},
		Node: node,
		Scan: scan,
	}, nil
}

// DiscoverAll walks account indices from zero and returns every account up
// to and including the first one without history. The first account is
// always returned even when empty, so a fresh wallet still has an account.
func (m *Manager) DiscoverAll(ctx context.Context, legacy bool) ([]*DiscoveredAccount, error) {
	var accounts []*DiscoveredAccount
	for index := uint32(0); ; index++ {
		acct, err := m.DiscoverAccount(ctx, legacy, index)
		if err != nil {
			return nil, err
		}
		if !acct.Scan.HasActivity() {
			if index == 0 {
				accounts = append(accounts, acct)
			}
			break
		}
		accounts = append(accounts, acct)
	}
	if m.log != nil {
		m.log.Info("account discovery complete", "legacy", legacy, "accounts", len(accounts))
	}
	return accounts, nil
}

// NextAccount discovers the account at the given index for use as a new
// account. It refuses with ErrEmptyAccount when the preceding account has
// no history, since addresses past an unused account would fall outside the
// discovery window of other wallets.
func (m *Manager) NextAccount(ctx context.Context, legacy bool, index uint32) (*DiscoveredAccount, error) {
	if index > 0 {
		prev, err := m.DiscoverAccount(ctx, legacy, index-1)
		if err != nil {
			return nil, err
		}
		if !prev.Scan.HasActivity() {
			return nil, fmt.Errorf("%w: account %d is unused", ErrEmptyAccount, index-1)
		}
	}
	return m.DiscoverAccount(ctx, legacy, index)
}
