package vm

import (
	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/events"
)

// Context is handed to every Handler. Tx is the request being executed;
// Group holds every member of its atomic group in order and Index is Tx's
// position in it. A transaction submitted on its own is a group of one.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction
	Group []*core.Transaction
	Index int

	pending []events.Event
	result  map[string]any
}

// Emit queues an event. Queued events are delivered only if the enclosing
// request commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.pending = append(c.pending, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// SetResult records a return value that ends up in the request's receipt.
func (c *Context) SetResult(key string, value any) {
	if c.result == nil {
		c.result = make(map[string]any)
	}
	c.result[key] = value
}

// Ledger returns the inner-operation interface bound to this request.
func (c *Context) Ledger() *Ledger {
	return &Ledger{ctx: c}
}
