package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
	"github.com/tolelom/freedaplay/events"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientUnits = errors.New("insufficient collectible units")
	ErrHoldingFrozen     = errors.New("holding is frozen")
	ErrNotAuthority      = errors.New("not the collectible authority")
)

// Ledger performs inner operations for the request in its Context: base
// currency payments and collectible issuance, transfer and freeze. Writes go
// through the request's state snapshot, so they vanish if the request fails.
type Ledger struct {
	ctx *Context
}

// IssueParams describes a collectible to mint. Authority becomes creator,
// reserve, manager, freeze and clawback address, and receives the supply.
type IssueParams struct {
	Name        string
	TotalSupply uint64
	Decimals    uint32
	URL         string
	Authority   string
}

// Pay moves amount of base currency from one account to another.
func (l *Ledger) Pay(from, to string, amount uint64) error {
	if amount == 0 {
		return errors.New("payment amount must be > 0")
	}
	if to == "" {
		return errors.New("payment receiver required")
	}
	state := l.ctx.State

	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow for %s", to)
	}
	recipient.Balance += amount
	if err := state.SetAccount(recipient); err != nil {
		return err
	}

	l.ctx.Emit(events.EventPayment, map[string]any{"from": from, "to": to, "amount": amount})
	return nil
}

// Issue mints a collectible. Its ID is derived from the request ID and the
// name, so one request cannot mint the same name twice.
func (l *Ledger) Issue(p IssueParams) (*core.Collectible, error) {
	if p.Name == "" {
		return nil, errors.New("collectible name required")
	}
	if p.TotalSupply == 0 {
		return nil, errors.New("total supply must be > 0")
	}
	if p.Authority == "" {
		return nil, errors.New("collectible authority required")
	}
	state := l.ctx.State

	id := crypto.Hash([]byte(l.ctx.Tx.ID + ":collectible:" + p.Name))
	if _, err := state.GetCollectible(id); err == nil {
		return nil, fmt.Errorf("collectible %s already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("check collectible %s: %w", id, err)
	}

	c := &core.Collectible{
		ID:          id,
		Name:        p.Name,
		TotalSupply: p.TotalSupply,
		Decimals:    p.Decimals,
		URL:         p.URL,
		Creator:     p.Authority,
		Reserve:     p.Authority,
		Manager:     p.Authority,
		Freeze:      p.Authority,
		Clawback:    p.Authority,
		IssuedAt:    l.ctx.Block.Header.Timestamp,
	}
	if err := state.SetCollectible(c); err != nil {
		return nil, err
	}
	if err := state.SetHolding(&core.Holding{CollectibleID: id, Address: p.Authority, Amount: p.TotalSupply}); err != nil {
		return nil, err
	}

	l.ctx.Emit(events.EventCollectibleIssued, map[string]any{
		"collectible_id": id,
		"name":           p.Name,
		"total_supply":   p.TotalSupply,
		"reserve":        p.Authority,
	})
	return c, nil
}

// Collectible returns the parameters of an issued collectible.
func (l *Ledger) Collectible(id string) (*core.Collectible, error) {
	return l.ctx.State.GetCollectible(id)
}

// Transfer moves amount units of a collectible from one holder to another
// on the authority of authority. When authority is the holder itself this
// is an ordinary transfer. Otherwise it is a clawback, allowed only to the
// collectible's clawback address. Freeze state binds everyone except the
// clawback address.
func (l *Ledger) Transfer(collectibleID, authority, from, to string, amount uint64) error {
	if amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if to == "" {
		return errors.New("transfer receiver required")
	}
	state := l.ctx.State

	c, err := state.GetCollectible(collectibleID)
	if err != nil {
		return fmt.Errorf("collectible %q: %w", collectibleID, err)
	}
	clawback := authority != from
	privileged := authority == c.Clawback
	if clawback && !privileged {
		return fmt.Errorf("%w: %s cannot claw back %s", ErrNotAuthority, authority, collectibleID)
	}

	src, err := state.GetHolding(collectibleID, from)
	if err != nil {
		return err
	}
	dst, err := state.GetHolding(collectibleID, to)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientUnits, from, src.Amount, amount)
	}
	if !privileged {
		if src.Frozen {
			return fmt.Errorf("%w: sender %s", ErrHoldingFrozen, from)
		}
		if dst.Frozen {
			return fmt.Errorf("%w: receiver %s", ErrHoldingFrozen, to)
		}
	}
	if from == to {
		return nil
	}

	src.Amount -= amount
	dst.Amount += amount
	if err := state.SetHolding(src); err != nil {
		return err
	}
	if err := state.SetHolding(dst); err != nil {
		return err
	}

	l.ctx.Emit(events.EventCollectibleTransfer, map[string]any{
		"collectible_id": collectibleID,
		"from":           from,
		"to":             to,
		"amount":         amount,
		"from_balance":   src.Amount,
		"clawback":       clawback,
	})
	return nil
}

// SetFrozen sets the frozen flag of account's holding. Only the
// collectible's freeze address may do this.
func (l *Ledger) SetFrozen(collectibleID, authority, account string, frozen bool) error {
	state := l.ctx.State
	c, err := state.GetCollectible(collectibleID)
	if err != nil {
		return fmt.Errorf("collectible %q: %w", collectibleID, err)
	}
	if authority != c.Freeze {
		return fmt.Errorf("%w: %s cannot freeze %s", ErrNotAuthority, authority, collectibleID)
	}
	h, err := state.GetHolding(collectibleID, account)
	if err != nil {
		return err
	}
	h.Frozen = frozen
	if err := state.SetHolding(h); err != nil {
		return err
	}

	l.ctx.Emit(events.EventCollectibleFreeze, map[string]any{
		"collectible_id": collectibleID,
		"account":        account,
		"frozen":         frozen,
	})
	return nil
}

// Balance returns how many units of a collectible account holds.
func (l *Ledger) Balance(collectibleID, account string) (uint64, error) {
	h, err := l.ctx.State.GetHolding(collectibleID, account)
	if err != nil {
		return 0, err
	}
	return h.Amount, nil
}
