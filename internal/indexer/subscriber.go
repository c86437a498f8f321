package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// BlockHandler receives new-block notifications.
type BlockHandler func(hash string, height int64)

// AddressHandler receives new-transaction notifications for a watched address.
type AddressHandler func(address, txid string)

// Subscriber maintains the indexer's websocket push channel. It delivers two
// event kinds: new block, and new transaction on a subscribed address.
// After Close returns, no further callbacks are delivered.
type Subscriber struct {
	url     string
	conn    *websocket.Conn
	log     *logging.Logger

	mu        sync.Mutex
	closed    bool
	blockSub  string // subscription id -> dispatch key
	addrSub   string
	onBlock   BlockHandler
	onAddress AddressHandler

	done chan struct{}
	wg   sync.WaitGroup
}

// wsRequest is a Blockbook websocket request frame.
type wsRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// wsResponse is a Blockbook websocket response or notification frame.
// Notifications reuse the id of the originating subscription.
type wsResponse struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// NewSubscriber creates a push-channel subscriber for the given websocket URL,
// e.g. "wss://btc1.trezor.io/websocket".
func NewSubscriber(url string, logger *logging.Logger) *Subscriber {
	if logger == nil {
		logger = logging.GetDefault().Component("indexer-ws")
	}
	return &Subscriber{
		url:  url,
		log:  logger,
		done: make(chan struct{}),
	}
}

// Connect dials the websocket endpoint and starts the read pump.
func (s *Subscriber) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readPump()

	return nil
}

// SubscribeNewBlock registers a handler for new-block notifications.
func (s *Subscriber) SubscribeNewBlock(handler BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	id := uuid.NewString()
	s.blockSub = id
	s.onBlock = handler

	return s.conn.WriteJSON(wsRequest{ID: id, Method: "subscribeNewBlock"})
}

// SubscribeAddresses registers a handler for transactions touching any of the
// given addresses. Calling it again replaces the watched set.
func (s *Subscriber) SubscribeAddresses(addresses []string, handler AddressHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	id := uuid.NewString()
	s.addrSub = id
	s.onAddress = handler

	return s.conn.WriteJSON(wsRequest{
		ID:     id,
		Method: "subscribeAddresses",
		Params: map[string]interface{}{"addresses": addresses},
	})
}

// Close tears down the subscription channel. It blocks until the read pump
// has exited, so no handler runs after it returns.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// readPump reads frames and dispatches notifications until the connection
// drops or Close is called.
func (s *Subscriber) readPump() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		var resp wsResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		s.dispatch(&resp)
	}
}

// dispatch routes one frame to the matching handler.
func (s *Subscriber) dispatch(resp *wsResponse) {
	s.mu.Lock()
	blockSub, addrSub := s.blockSub, s.addrSub
	onBlock, onAddress := s.onBlock, s.onAddress
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}

	switch resp.ID {
	case blockSub:
		var data struct {
			Height     int64  `json:"height"`
			Hash       string `json:"hash"`
			Subscribed *bool  `json:"subscribed"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			s.log.Warn("malformed block notification", "error", err)
			return
		}
		if data.Subscribed != nil {
			s.log.Debug("block subscription confirmed")
			return
		}
		if onBlock != nil {
			onBlock(data.Hash, data.Height)
		}

	case addrSub:
		var data struct {
			Address    string `json:"address"`
			Tx         *struct {
				Txid string `json:"txid"`
			} `json:"tx"`
			Subscribed *bool `json:"subscribed"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			s.log.Warn("malformed address notification", "error", err)
			return
		}
		if data.Subscribed != nil {
			s.log.Debug("address subscription confirmed")
			return
		}
		if onAddress != nil && data.Tx != nil {
			onAddress(data.Address, data.Tx.Txid)
		}
	}
}
