package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BlockbookClient implements Indexer using Trezor's Blockbook API.
// API docs: https://github.com/trezor/blockbook/blob/master/docs/api.md
type BlockbookClient struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
}

// NewBlockbookClient creates a new Blockbook client.
// baseURL should be like "https://btc1.trezor.io/api/v2".
func NewBlockbookClient(baseURL string, timeout time.Duration) *BlockbookClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &BlockbookClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Connect tests the connection to the API.
func (b *BlockbookClient) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL, nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrNotConnected, resp.StatusCode)
	}

	b.connected = true
	return nil
}

// Close closes the client.
func (b *BlockbookClient) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.httpClient.CloseIdleConnections()
	return nil
}

// GetAddressHistory fetches the transaction history for a batch of addresses.
func (b *BlockbookClient) GetAddressHistory(ctx context.Context, addresses []string) (*AddressHistory, error) {
	history := &AddressHistory{
		Activity: make(map[string]bool, len(addresses)),
	}
	seen := make(map[string]bool)

	for _, addr := range addresses {
		var result struct {
			Address      string        `json:"address"`
			Txs          int64         `json:"txs"`
			Transactions []blockbookTx `json:"transactions"`
		}

		if err := b.get(ctx, "/address/"+addr+"?details=txs", &result); err != nil {
			return nil, fmt.Errorf("address %s: %w", addr, err)
		}

		history.Activity[addr] = result.Txs > 0

		for _, bt := range result.Transactions {
			if seen[bt.Txid] {
				continue
			}
			seen[bt.Txid] = true
			tx, err := convertTx(bt)
			if err != nil {
				return nil, err
			}
			history.Transactions = append(history.Transactions, tx)
		}
	}

	return history, nil
}

// GetTransaction fetches one transaction by id.
func (b *BlockbookClient) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var result blockbookTx

	if err := b.get(ctx, "/tx/"+txid, &result); err != nil {
		return nil, err
	}
	if result.Txid == "" {
		return nil, ErrTxNotFound
	}

	tx, err := convertTx(result)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetInfo returns the current chain tip.
func (b *BlockbookClient) GetInfo(ctx context.Context) (*Info, error) {
	var result struct {
		Blockbook struct {
			BestHeight int64 `json:"bestHeight"`
		} `json:"blockbook"`
		Backend struct {
			BestBlockHash string `json:"bestBlockHash"`
		} `json:"backend"`
	}

	if err := b.get(ctx, "", &result); err != nil {
		return nil, err
	}

	return &Info{
		BestHeight: result.Blockbook.BestHeight,
		BestHash:   result.Backend.BestBlockHash,
	}, nil
}

// get performs a GET request and decodes the JSON response.
func (b *BlockbookClient) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTxNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// blockbookTx is Blockbook's transaction format. Amounts arrive as decimal
// strings of satoshis.
type blockbookTx struct {
	Txid          string `json:"txid"`
	Version       int32  `json:"version"`
	Size          int64  `json:"size"`
	VSize         int64  `json:"vsize"`
	BlockHash     string `json:"blockHash"`
	BlockHeight   int64  `json:"blockHeight"`
	BlockTime     int64  `json:"blockTime"`
	Confirmations int64  `json:"confirmations"`
	Fees          string `json:"fees"`
	Vin           []struct {
		Txid      string   `json:"txid"`
		Vout      uint32   `json:"vout"`
		Addresses []string `json:"addresses"`
		Value     string   `json:"value"`
	} `json:"vin"`
	Vout []struct {
		Value     string   `json:"value"`
		N         uint32   `json:"n"`
		Addresses []string `json:"addresses"`
	} `json:"vout"`
}

// convertTx converts a Blockbook transaction to our format.
func convertTx(bt blockbookTx) (Transaction, error) {
	fee, err := parseAmount(bt.Fees)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx %s fee: %w", bt.Txid, err)
	}
	tx := Transaction{
		Txid:          bt.Txid,
		Version:       bt.Version,
		Size:          bt.Size,
		VSize:         bt.VSize,
		BlockHash:     bt.BlockHash,
		BlockHeight:   bt.BlockHeight,
		BlockTime:     bt.BlockTime,
		Confirmations: bt.Confirmations,
		Fee:           fee,
		Inputs:        make([]TxInput, len(bt.Vin)),
		Outputs:       make([]TxOutput, len(bt.Vout)),
	}

	// Blockbook reports mempool transactions with height -1; normalize
	// height 0 (some deployments) to the same sentinel.
	if bt.Confirmations == 0 && tx.BlockHeight == 0 {
		tx.BlockHeight = -1
	}

	for i, vin := range bt.Vin {
		value, err := parseAmount(vin.Value)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx %s input %d: %w", bt.Txid, i, err)
		}
		tx.Inputs[i] = TxInput{
			Txid:      vin.Txid,
			Vout:      vin.Vout,
			Addresses: vin.Addresses,
			Value:     value,
		}
	}

	for i, vout := range bt.Vout {
		value, err := parseAmount(vout.Value)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx %s output %d: %w", bt.Txid, vout.N, err)
		}
		tx.Outputs[i] = TxOutput{
			N:         vout.N,
			Addresses: vout.Addresses,
			Value:     value,
		}
	}

	return tx, nil
}

// parseAmount parses a decimal satoshi string. Coinbase inputs arrive
// without a value; treat the empty string as zero.
func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

// Ensure BlockbookClient implements Indexer
var _ Indexer = (*BlockbookClient)(nil)
