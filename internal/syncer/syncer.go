// Package syncer orchestrates wallet synchronization: account discovery,
// full refreshes, realtime transaction ingestion and balance upkeep.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/quartermast-wallet/quartermast/internal/discovery"
	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/internal/labeling"
	"github.com/quartermast-wallet/quartermast/internal/signer"
	"github.com/quartermast-wallet/quartermast/internal/storage"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// ErrUnknownAccount indicates an operation referenced an account id that
// is not in storage.
var ErrUnknownAccount = errors.New("unknown account")

// Service drives synchronization for all stored accounts.
type Service struct {
	store    *storage.Storage
	manager  *discovery.Manager
	fetcher  *discovery.Fetcher
	idx      indexer.Indexer
	labeling *labeling.Manager
	events   *Events
	log      *logging.Logger

	// Per-account refresh locks. Concurrent refreshes of different
	// accounts may proceed; the same account serializes.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a syncer service. labelMgr may be nil when labeling is not
// configured.
func New(store *storage.Storage, manager *discovery.Manager, fetcher *discovery.Fetcher, idx indexer.Indexer, labelMgr *labeling.Manager, logger *logging.Logger) *Service {
	return &Service{
		store:    store,
		manager:  manager,
		fetcher:  fetcher,
		idx:      idx,
		labeling: labelMgr,
		events:   NewEvents(logger),
		log:      logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Events returns the service's event publisher.
func (s *Service) Events() *Events {
	return s.events
}

func (s *Service) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Discover runs full account discovery for both account types, persists
// newly found accounts and refreshes each one.
func (s *Service) Discover(ctx context.Context) error {
	for _, legacy := range []bool{true, false} {
		accounts, err := s.manager.DiscoverAll(ctx, legacy)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			if err := s.store.SaveAccount(acct.Account); err != nil {
				return err
			}
			if err := s.refreshScanned(ctx, acct.Account, acct.Scan); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddAccount discovers and persists the next account of one type. The
// discovery manager refuses when the preceding account is still unused.
func (s *Service) AddAccount(ctx context.Context, legacy bool) (*storage.Account, error) {
	existing, err := s.store.ListAccounts(legacy)
	if err != nil {
		return nil, err
	}
	next := uint32(len(existing))

	acct, err := s.manager.NextAccount(ctx, legacy, next)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAccount(acct.Account); err != nil {
		return nil, err
	}
	if err := s.refreshScanned(ctx, acct.Account, acct.Scan); err != nil {
		return nil, err
	}
	return acct.Account, nil
}

// Refresh re-scans one stored account against the indexer and persists the
// result atomically.
func (s *Service) Refresh(ctx context.Context, accountID string) error {
	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	node := accountNode(account)
	scan, err := s.fetcher.ScanAccount(ctx, node, account.Legacy)
	if err != nil {
		return err
	}
	return s.refreshScanned(ctx, account, scan)
}

// refreshScanned turns a scan into persisted state: addresses and
// classified transactions land in one database transaction, then the
// cached balance updates and an event publishes.
func (s *Service) refreshScanned(ctx context.Context, account *storage.Account, scan *discovery.AccountScan) error {
	lock := s.lockFor(account.ID)
	lock.Lock()
	defer lock.Unlock()

	meta := s.pullMetadata(ctx, account)

	owned := scan.OwnedAddresses()
	change := scan.ChangeAddresses()

	txs := make([]*storage.Transaction, 0, len(scan.Transactions))
	for _, tx := range scan.Transactions {
		st := discovery.BuildTransaction(account.ID, tx, owned, change)
		for _, out := range st.Outputs {
			if label := meta.OutputLabel(st.Txid, out.Index); label != "" {
				out.Label = label
			}
		}
		txs = append(txs, st)
	}

	addrs := s.buildAddresses(account, scan, txs, meta)

	if err := s.store.SaveRefresh(account.ID, addrs, txs); err != nil {
		return err
	}

	// Balance derives from the persisted set, not the scan: an ingest can
	// commit a transaction this scan predates, and its row survives the
	// refresh write.
	stored, err := s.store.ListTransactions(account.ID)
	if err != nil {
		return err
	}
	balance := discovery.ComputeBalance(stored)
	if err := s.store.UpdateAccountBalance(account.ID, balance); err != nil {
		return err
	}
	if meta.AccountLabel != "" {
		if err := s.store.UpdateAccountLabel(account.ID, meta.AccountLabel); err != nil {
			return err
		}
	}

	if s.log != nil {
		s.log.Info("account refreshed", "account", account.ID,
			"addresses", len(addrs), "transactions", len(txs), "balance", balance)
	}
	s.events.Publish(Event{Type: EventAccountRefreshed, Account: account.ID})
	return nil
}

func (s *Service) buildAddresses(account *storage.Account, scan *discovery.AccountScan, txs []*storage.Transaction, meta *labeling.AccountMetadata) []*storage.Address {
	var addrs []*storage.Address
	for _, branch := range []struct {
		scan   *discovery.BranchScan
		change bool
	}{
		{scan.Receive, false},
		{scan.Change, true},
	} {
		for i, addr := range branch.scan.Addresses {
			addrs = append(addrs, &storage.Address{
				Account:       account.ID,
				Address:       addr,
				Change:        branch.change,
				Index:         uint32(i),
				Label:         meta.AddressLabels[addr],
				TotalReceived: discovery.TotalReceived(txs, addr),
			})
		}
	}
	return addrs
}

// pullMetadata fetches labels for a refresh. Any labeling failure degrades
// to empty metadata; synchronization never blocks on the label store.
func (s *Service) pullMetadata(ctx context.Context, account *storage.Account) *labeling.AccountMetadata {
	if s.labeling == nil || !s.labeling.Enabled() {
		return labeling.NewAccountMetadata()
	}
	meta, err := s.labeling.Pull(ctx, account)
	if err != nil {
		if s.log != nil {
			s.log.Warn("metadata pull failed, refreshing without labels",
				"account", account.ID, "error", err)
		}
		return labeling.NewAccountMetadata()
	}
	return meta
}

// RefreshAll refreshes every stored account. A failing account logs and
// does not stop the others; the first error returns after the loop.
func (s *Service) RefreshAll(ctx context.Context) error {
	accounts, err := s.store.AllAccounts()
	if err != nil {
		return err
	}

	var firstErr error
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Refresh(ctx, account.ID); err != nil {
			if s.log != nil {
				s.log.Error("account refresh failed", "account", account.ID, "error", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Ingest handles a single transaction observed on a watched address,
// typically pushed over the realtime channel. The transaction is fetched,
// classified against each owning account's stored address set, persisted,
// and the account balance recomputed.
func (s *Service) Ingest(ctx context.Context, txid, address string) error {
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return fmt.Errorf("invalid txid %q: %w", txid, err)
	}

	accountIDs, err := s.store.AccountsForAddress(address)
	if err != nil {
		return err
	}
	if len(accountIDs) == 0 {
		if s.log != nil {
			s.log.Debug("ignoring transaction for unknown address", "address", address)
		}
		return nil
	}

	tx, err := s.idx.GetTransaction(ctx, txid)
	if err != nil {
		return fmt.Errorf("failed to fetch transaction %s: %w", txid, err)
	}

	for _, accountID := range accountIDs {
		if err := s.ingestForAccount(ctx, accountID, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ingestForAccount(ctx context.Context, accountID string, tx *indexer.Transaction) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	stored, err := s.store.AllAddresses(accountID)
	if err != nil {
		return err
	}
	owned := make(map[string]bool, len(stored))
	change := make(map[string]bool)
	for _, a := range stored {
		owned[a.Address] = true
		if a.Change {
			change[a.Address] = true
		}
	}

	st := discovery.BuildTransaction(accountID, tx, owned, change)

	meta := s.pullMetadata(ctx, account)
	for _, out := range st.Outputs {
		if label := meta.OutputLabel(st.Txid, out.Index); label != "" {
			out.Label = label
		}
	}

	if err := s.store.SaveTransaction(st); err != nil {
		return err
	}

	txs, err := s.store.ListTransactions(accountID)
	if err != nil {
		return err
	}
	balance := discovery.ComputeBalance(txs)
	if err := s.store.UpdateAccountBalance(accountID, balance); err != nil {
		return err
	}

	if s.log != nil {
		s.log.Info("transaction ingested", "account", accountID, "txid", st.Txid,
			"type", st.Type, "balance", balance)
	}
	s.events.Publish(Event{Type: EventTransaction, Account: accountID, Txid: st.Txid})
	return nil
}

// ConfirmPending re-fetches the unconfirmed transactions of the accounts
// holding them, typically after a new block.
func (s *Service) ConfirmPending(ctx context.Context) error {
	accountIDs, err := s.store.AccountsWithUnconfirmed()
	if err != nil {
		return err
	}

	var firstErr error
	for _, accountID := range accountIDs {
		if err := s.Refresh(ctx, accountID); err != nil {
			if s.log != nil {
				s.log.Error("pending confirmation refresh failed",
					"account", accountID, "error", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WatchedAddresses returns every stored address across all accounts, the
// set the realtime channel subscribes to.
func (s *Service) WatchedAddresses() ([]string, error) {
	accounts, err := s.store.AllAccounts()
	if err != nil {
		return nil, err
	}
	var all []string
	for _, account := range accounts {
		addrs, err := s.store.AllAddresses(account.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			all = append(all, a.Address)
		}
	}
	return all, nil
}

// accountNode reconstructs the signer node material from a stored account.
func accountNode(account *storage.Account) *signer.AccountNode {
	return &signer.AccountNode{
		PublicKey: account.PublicKey,
		ChainCode: account.ChainCode,
		Xpub:      account.Xpub,
		ChildNum:  signer.Hardened + account.Index,
	}
}
