package discovery

import (
	"context"
	"fmt"

	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/internal/signer"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// DefaultGapLimit is the BIP44 gap limit: scanning a branch stops after
// this many consecutive unused addresses.
const DefaultGapLimit = 20

// Fetcher scans account branches against a chain indexer using the gap
// limit rule.
type Fetcher struct {
	deriver *Deriver
	idx     indexer.Indexer
	gap     uint32
	log     *logging.Logger
}

// NewFetcher creates a fetcher. A gap of 0 falls back to DefaultGapLimit.
func NewFetcher(deriver *Deriver, idx indexer.Indexer, gap uint32, logger *logging.Logger) *Fetcher {
	if gap == 0 {
		gap = DefaultGapLimit
	}
	return &Fetcher{
		deriver: deriver,
		idx:     idx,
		gap:     gap,
		log:     logger,
	}
}

// BranchScan is the result of scanning one branch of an account.
type BranchScan struct {
	// Addresses holds the derived addresses from index 0 through the last
	// used index. The first address is always present even on an unused
	// branch, so a fresh account still exposes a receive address.
	Addresses []string

	// LastUsed is the highest index with on-chain activity, or -1.
	LastUsed int
}

// AccountScan is the result of scanning both branches of an account.
type AccountScan struct {
	Receive *BranchScan
	Change  *BranchScan

	// Transactions maps txid to the fetched transaction, deduplicated
	// across addresses and branches.
	Transactions map[string]*indexer.Transaction
}

// HasActivity reports whether the scan found any transaction history.
func (s *AccountScan) HasActivity() bool {
	return len(s.Transactions) > 0
}

// OwnedAddresses returns the set of all scanned addresses of the account.
func (s *AccountScan) OwnedAddresses() map[string]bool {
	owned := make(map[string]bool, len(s.Receive.Addresses)+len(s.Change.Addresses))
	for _, a := range s.Receive.Addresses {
		owned[a] = true
	}
	for _, a := range s.Change.Addresses {
		owned[a] = true
	}
	return owned
}

// ChangeAddresses returns the set of scanned change addresses.
func (s *AccountScan) ChangeAddresses() map[string]bool {
	change := make(map[string]bool, len(s.Change.Addresses))
	for _, a := range s.Change.Addresses {
		change[a] = true
	}
	return change
}

// ScanAccount scans the receive and change branches of one account and
// collects the deduplicated transaction set.
func (f *Fetcher) ScanAccount(ctx context.Context, node *signer.AccountNode, legacy bool) (*AccountScan, error) {
	txs := make(map[string]*indexer.Transaction)

	receive, err := f.scanBranch(ctx, node, legacy, BranchReceive, txs)
	if err != nil {
		return nil, err
	}
	change, err := f.scanBranch(ctx, node, legacy, BranchChange, txs)
	if err != nil {
		return nil, err
	}

	return &AccountScan{
		Receive:      receive,
		Change:       change,
		Transactions: txs,
	}, nil
}

// scanBranch walks one branch in gap-sized windows. Each window is queried
// in a single batch; the scan extends while new activity pushes the last
// used index forward, and stops once gap consecutive addresses past it are
// known unused.
func (f *Fetcher) scanBranch(ctx context.Context, node *signer.AccountNode, legacy bool, branch Branch, txs map[string]*indexer.Transaction) (*BranchScan, error) {
	lastUsed := -1
	derived := make([]string, 0, f.gap)
	next := uint32(0)

	for int(next) <= lastUsed+int(f.gap) {
		end := uint32(lastUsed + int(f.gap))
		window := make([]string, 0, end-next+1)
		for i := next; i <= end; i++ {
			addr, err := f.deriver.DeriveAddress(node, legacy, branch, i)
			if err != nil {
				return nil, err
			}
			window = append(window, addr)
		}

		history, err := f.idx.GetAddressHistory(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("%w: branch %d index %d: %v", ErrFetchFailed, branch, next, err)
		}

		for i, addr := range window {
			if history.Activity[addr] {
				lastUsed = int(next) + i
			}
		}
		for i := range history.Transactions {
			tx := history.Transactions[i]
			txs[tx.Txid] = &tx
		}

		derived = append(derived, window...)
		next = end + 1
	}

	if f.log != nil {
		f.log.Debug("branch scanned", "branch", branch, "last_used", lastUsed, "queried", len(derived))
	}

	// Keep indices 0 through lastUsed. Index 0 is always kept so a fresh
	// branch still has a usable address.
	keep := lastUsed + 1
	if keep < 1 {
		keep = 1
	}
	return &BranchScan{
		Addresses: derived[:keep],
		LastUsed:  lastUsed,
	}, nil
}
