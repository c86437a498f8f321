// Package indexer provides the chain-indexer client used for account
// discovery and transaction history. The indexer is read-only: no keys are
// handled here and its classification of confirmations is trusted as-is.
package indexer

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotConnected = errors.New("indexer not connected")
	ErrTxNotFound   = errors.New("transaction not found")
	ErrRateLimited  = errors.New("rate limited")
)

// Transaction represents a transaction as reported by the indexer.
type Transaction struct {
	Txid          string     `json:"txid"`
	Version       int32      `json:"version"`
	Size          int64      `json:"size"`
	VSize         int64      `json:"vsize"`
	Fee           uint64     `json:"fee"`
	BlockHash     string     `json:"block_hash,omitempty"`
	BlockHeight   int64      `json:"block_height"` // -1 while unconfirmed
	BlockTime     int64      `json:"block_time,omitempty"`
	Confirmations int64      `json:"confirmations"`
	Inputs        []TxInput  `json:"vin"`
	Outputs       []TxOutput `json:"vout"`
}

// TxInput represents a transaction input.
type TxInput struct {
	Txid      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	Addresses []string `json:"addresses"`
	Value     uint64   `json:"value"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	N         uint32   `json:"n"`
	Addresses []string `json:"addresses"`
	Value     uint64   `json:"value"`
}

// Address returns the first (and in practice only) address of an input,
// or "" when the previous output script is non-standard or unknown.
func (in *TxInput) Address() string {
	if len(in.Addresses) > 0 {
		return in.Addresses[0]
	}
	return ""
}

// Address returns the first address of an output, or "" for non-standard
// scripts (OP_RETURN etc.).
func (out *TxOutput) Address() string {
	if len(out.Addresses) > 0 {
		return out.Addresses[0]
	}
	return ""
}

// AddressHistory is the result of a batched history lookup: the union of
// transactions touching any queried address, plus a per-address activity flag.
type AddressHistory struct {
	Transactions []Transaction
	Activity     map[string]bool // address -> had any transaction
}

// Info contains chain tip information.
type Info struct {
	BestHeight int64 `json:"best_height"`
	BestHash   string `json:"best_hash,omitempty"`
}

// Indexer defines the interface for chain-index providers.
type Indexer interface {
	// Connect probes the service.
	Connect(ctx context.Context) error

	// Close releases the client.
	Close() error

	// GetAddressHistory fetches the transaction history for a batch of
	// addresses. A single failed address lookup fails the whole batch.
	GetAddressHistory(ctx context.Context, addresses []string) (*AddressHistory, error)

	// GetTransaction fetches one transaction with full input/output detail.
	GetTransaction(ctx context.Context, txid string) (*Transaction, error)

	// GetInfo returns the current chain tip.
	GetInfo(ctx context.Context) (*Info, error)
}
