package vm

import (
	"fmt"
	"math"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/events"
)

// Executor applies requests to the state using the global handler registry.
//
// Events from committed requests collect in an outbox instead of going
// straight to the emitter. The sequencer calls Flush once the block holding
// them is stored, or Discard if the block is abandoned, so subscribers never
// observe work that did not make it into the chain.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	outbox  []events.Event
}

// NewExecutor creates an Executor over state. emitter may be nil.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// ExecuteTx runs tx, or every member of tx when it is a group, under a
// single snapshot. Any failure reverts all of it.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	result, pending, err := e.execute(block, tx)
	if err != nil {
		e.outbox = append(e.outbox, events.Event{
			Type:        events.EventTxFailed,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
		})
		return err
	}
	e.outbox = append(e.outbox, pending...)
	e.outbox = append(e.outbox, events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "result": result},
	})
	return nil
}

func (e *Executor) execute(block *core.Block, tx *core.Transaction) (map[string]any, []events.Event, error) {
	if err := tx.Verify(); err != nil {
		return nil, nil, fmt.Errorf("signature: %w", err)
	}
	members, err := tx.Members()
	if err != nil {
		return nil, nil, err
	}
	grouped := tx.Type == core.TxGroup
	if grouped {
		for i, m := range members {
			if err := m.Verify(); err != nil {
				return nil, nil, fmt.Errorf("group member %d signature: %w", i, err)
			}
			m.ID = m.Hash()
		}
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}

	result, pending, err := e.applyGroup(block, tx, members, grouped)
	if err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return nil, nil, err
	}
	return result, pending, nil
}

func (e *Executor) applyGroup(block *core.Block, tx *core.Transaction, members []*core.Transaction, grouped bool) (map[string]any, []events.Event, error) {
	if grouped {
		if err := e.chargeSender(tx); err != nil {
			return nil, nil, fmt.Errorf("group envelope: %w", err)
		}
	}

	result := make(map[string]any)
	var pending []events.Event
	for i, m := range members {
		ctx := &Context{
			State: e.state,
			Block: block,
			Tx:    m,
			Group: members,
			Index: i,
		}
		if err := e.applyMember(ctx); err != nil {
			if grouped {
				return nil, nil, fmt.Errorf("group member %d (%s): %w", i, m.Type, err)
			}
			return nil, nil, err
		}
		pending = append(pending, ctx.pending...)
		for k, v := range ctx.result {
			result[k] = v
		}
	}
	return result, pending, nil
}

// chargeSender checks the nonce, deducts the fee and bumps the nonce.
func (e *Executor) chargeSender(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}

func (e *Executor) applyMember(ctx *Context) error {
	if err := e.chargeSender(ctx.Tx); err != nil {
		return err
	}
	return globalRegistry.Execute(ctx.Tx.Type, ctx, ctx.Tx.Payload)
}

// Flush delivers every queued event to the emitter and empties the outbox.
func (e *Executor) Flush() {
	out := e.outbox
	e.outbox = nil
	if e.emitter == nil {
		return
	}
	for _, ev := range out {
		e.emitter.Emit(ev)
	}
}

// Discard drops queued events without delivering them.
func (e *Executor) Discard() {
	e.outbox = nil
}
