package syncer

import (
	"context"
	"time"

	"github.com/quartermast-wallet/quartermast/internal/indexer"
	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// ingestTimeout bounds the work done for one pushed notification.
const ingestTimeout = 30 * time.Second

// Realtime feeds pushed indexer notifications into the syncer: address
// activity ingests the transaction, new blocks re-check pending
// confirmations.
type Realtime struct {
	svc *Service
	sub *indexer.Subscriber
	log *logging.Logger
}

// NewRealtime creates the realtime bridge.
func NewRealtime(svc *Service, sub *indexer.Subscriber, logger *logging.Logger) *Realtime {
	return &Realtime{
		svc: svc,
		sub: sub,
		log: logger,
	}
}

// Start connects the websocket and subscribes to blocks and to every
// stored address.
func (r *Realtime) Start(ctx context.Context) error {
	if err := r.sub.Connect(ctx); err != nil {
		return err
	}

	if err := r.sub.SubscribeNewBlock(func(hash string, height int64) {
		r.onBlock(hash, height)
	}); err != nil {
		return err
	}

	addrs, err := r.svc.WatchedAddresses()
	if err != nil {
		return err
	}
	if len(addrs) > 0 {
		if err := r.sub.SubscribeAddresses(addrs, func(address, txid string) {
			r.onAddressActivity(address, txid)
		}); err != nil {
			return err
		}
	}

	if r.log != nil {
		r.log.Info("realtime channel started", "watched_addresses", len(addrs))
	}
	return nil
}

// Resubscribe refreshes the address subscription, picking up addresses
// discovered since Start.
func (r *Realtime) Resubscribe() error {
	addrs, err := r.svc.WatchedAddresses()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}
	return r.sub.SubscribeAddresses(addrs, func(address, txid string) {
		r.onAddressActivity(address, txid)
	})
}

// Stop closes the websocket. No handlers run after it returns.
func (r *Realtime) Stop() error {
	return r.sub.Close()
}

func (r *Realtime) onAddressActivity(address, txid string) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if err := r.svc.Ingest(ctx, txid, address); err != nil {
		if r.log != nil {
			r.log.Error("failed to ingest pushed transaction", "txid", txid, "error", err)
		}
	}
}

func (r *Realtime) onBlock(hash string, height int64) {
	if r.log != nil {
		r.log.Debug("new block", "hash", hash, "height", height)
	}
	r.svc.Events().Publish(Event{Type: EventBlock})

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if err := r.svc.ConfirmPending(ctx); err != nil {
		if r.log != nil {
			r.log.Error("failed to confirm pending transactions", "height", height, "error", err)
		}
	}
}
