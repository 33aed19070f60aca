// Package events delivers committed state changes to in-process subscribers.
package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"
	EventTxFailed    EventType = "tx_failed"

	EventPayment             EventType = "payment"
	EventCollectibleIssued   EventType = "collectible_issued"
	EventCollectibleTransfer EventType = "collectible_transfer"
	EventCollectibleFreeze   EventType = "collectible_freeze"

	EventMarketCreated  EventType = "market_created"
	EventMarketOptIn    EventType = "market_opt_in"
	EventMarketPurchase EventType = "market_purchase"
	EventMarketSale     EventType = "market_sale"
	EventMarketUnlock   EventType = "market_unlock"
	EventSeasonToggled  EventType = "season_toggled"
	EventCollectibleURL EventType = "collectible_url_set"
)

// Event is emitted after the request that produced it commits.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a subscriber callback.
type Handler func(Event)

// Emitter is a synchronous pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h for typ.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit calls every subscriber of ev.Type in registration order. A panicking
// subscriber is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
