package syncer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/quartermast-wallet/quartermast/pkg/logging"
)

// Event types published by the syncer.
const (
	EventAccountRefreshed = "account_refreshed"
	EventTransaction      = "transaction"
	EventBlock            = "block"
)

// Event notifies subscribers of wallet state changes.
type Event struct {
	Type    string
	Account string
	Txid    string
}

// Events fans wallet events out to subscribers. Delivery is best effort: a
// subscriber that stops draining its channel loses events rather than
// blocking the publisher.
type Events struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	log  *logging.Logger
}

// NewEvents creates an event publisher.
func NewEvents(logger *logging.Logger) *Events {
	return &Events{
		subs: make(map[string]chan Event),
		log:  logger,
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (e *Events) Subscribe() (string, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, 16)
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (e *Events) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// Publish sends an event to every subscriber without blocking.
func (e *Events) Publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			if e.log != nil {
				e.log.Warn("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
			}
		}
	}
}
