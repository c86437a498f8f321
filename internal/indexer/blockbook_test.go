package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testTx = `{
	"txid": "aabb01",
	"version": 2,
	"size": 223,
	"vsize": 141,
	"blockHeight": 800000,
	"blockTime": 1690000000,
	"confirmations": 12,
	"fees": "500",
	"vin": [
		{"txid": "ccdd02", "vout": 1, "addresses": ["1Sender"], "value": "150000"}
	],
	"vout": [
		{"value": "100000", "n": 0, "addresses": ["1Receiver"]},
		{"value": "49500", "n": 1, "addresses": ["1Change"]}
	]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			fmt.Fprint(w, `{"blockbook": {"bestHeight": 800123}, "backend": {"bestBlockHash": "000abc"}}`)
		case strings.HasPrefix(r.URL.Path, "/address/1Receiver"):
			fmt.Fprintf(w, `{"address": "1Receiver", "txs": 1, "transactions": [%s]}`, testTx)
		case strings.HasPrefix(r.URL.Path, "/address/"):
			fmt.Fprint(w, `{"address": "x", "txs": 0, "transactions": []}`)
		case r.URL.Path == "/tx/aabb01":
			fmt.Fprint(w, testTx)
		case strings.HasPrefix(r.URL.Path, "/tx/"):
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestBlockbookGetInfo(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	info, err := c.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.BestHeight != 800123 {
		t.Errorf("BestHeight = %d, want 800123", info.BestHeight)
	}
}

func TestBlockbookGetTransaction(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)

	tx, err := c.GetTransaction(context.Background(), "aabb01")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}

	if tx.Txid != "aabb01" {
		t.Errorf("Txid = %s, want aabb01", tx.Txid)
	}
	if tx.Fee != 500 {
		t.Errorf("Fee = %d, want 500", tx.Fee)
	}
	if len(tx.Inputs) != 1 || tx.Inputs[0].Value != 150000 {
		t.Errorf("unexpected inputs: %+v", tx.Inputs)
	}
	if len(tx.Outputs) != 2 || tx.Outputs[0].Address() != "1Receiver" {
		t.Errorf("unexpected outputs: %+v", tx.Outputs)
	}
}

func TestBlockbookGetTransactionNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)

	_, err := c.GetTransaction(context.Background(), "deadbeef")
	if !errors.Is(err, ErrTxNotFound) {
		t.Errorf("error = %v, want ErrTxNotFound", err)
	}
}

func TestBlockbookGetAddressHistory(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)

	history, err := c.GetAddressHistory(context.Background(), []string{"1Receiver", "1Empty"})
	if err != nil {
		t.Fatalf("GetAddressHistory() error = %v", err)
	}

	if !history.Activity["1Receiver"] {
		t.Error("1Receiver should have activity")
	}
	if history.Activity["1Empty"] {
		t.Error("1Empty should not have activity")
	}
	if len(history.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(history.Transactions))
	}
	if history.Transactions[0].BlockHeight != 800000 {
		t.Errorf("BlockHeight = %d, want 800000", history.Transactions[0].BlockHeight)
	}
}

func TestBlockbookHistoryFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)

	_, err := c.GetAddressHistory(context.Background(), []string{"1Any"})
	if err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0", 0, false},
		{"100000", 100000, false},
		{"", 0, false},
		{"not-a-number", 0, true},
		{"12.3", 0, true},
		{"-5", 0, true},
	}

	for _, tc := range tests {
		got, err := parseAmount(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseAmount(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBlockbookMalformedAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"txid": "aabb02",
			"fees": "500",
			"vin": [],
			"vout": [{"value": "0.001", "n": 0, "addresses": ["1Receiver"]}]
		}`)
	}))
	defer srv.Close()

	c := NewBlockbookClient(srv.URL, 5*time.Second)

	// A non-satoshi amount string must fail, never become 0.
	if _, err := c.GetTransaction(context.Background(), "aabb02"); err == nil {
		t.Fatal("GetTransaction() with malformed amount succeeded")
	}
}
