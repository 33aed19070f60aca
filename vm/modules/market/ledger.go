package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/vm"
)

// GroupEntry summarises one member of the request group the current call
// arrived in.
type GroupEntry struct {
	Type     core.TxType
	Sender   string
	Receiver string
	Amount   uint64
}

// Ledger is what CollectibleMarket needs from the hosting ledger. Every
// value-moving method acts with the market's custodial identity as sender.
type Ledger interface {
	// Caller is the identity that invoked the current operation.
	Caller() string
	// RequestGroup returns the ordered group and the current call's index in it.
	RequestGroup() ([]GroupEntry, int)
	// Issue mints a capped collectible with the custodial identity as every
	// authority and returns its ID.
	Issue(name string, totalSupply uint64, decimals uint32, url string) (string, error)
	// Creator returns the creator of a collectible, or core.ErrNotFound.
	Creator(collectibleID string) (string, error)
	// Transfer moves units; from the reserve it is an ordinary transfer,
	// from anyone else it uses clawback authority.
	Transfer(collectibleID, from, to string, amount uint64) error
	Freeze(collectibleID, account string, frozen bool) error
	Pay(from, to string, amount uint64) error
	Balance(collectibleID, account string) (uint64, error)
	// Now is the timestamp of the block being built.
	Now() int64
}

// Store holds the market's own records. core.State satisfies it.
type Store interface {
	GetMarket() (*core.Market, error)
	SetMarket(m *core.Market) error
	GetMarketAccount(address string) (*core.MarketAccount, error)
	SetMarketAccount(a *core.MarketAccount) error
}

// contextLedger adapts a vm.Context to Ledger.
type contextLedger struct {
	ctx *vm.Context
	l   *vm.Ledger
}

func newContextLedger(ctx *vm.Context) *contextLedger {
	return &contextLedger{ctx: ctx, l: ctx.Ledger()}
}

func (c *contextLedger) Caller() string { return c.ctx.Tx.From }

func (c *contextLedger) Now() int64 { return c.ctx.Block.Header.Timestamp }

func (c *contextLedger) RequestGroup() ([]GroupEntry, int) {
	entries := make([]GroupEntry, len(c.ctx.Group))
	for i, tx := range c.ctx.Group {
		entries[i] = GroupEntry{Type: tx.Type, Sender: tx.From}
		if tx.Type != core.TxPayment {
			continue
		}
		var p core.PaymentPayload
		if err := json.Unmarshal(tx.Payload, &p); err == nil {
			entries[i].Receiver = p.To
			entries[i].Amount = p.Amount
		}
	}
	return entries, c.ctx.Index
}

func (c *contextLedger) Issue(name string, totalSupply uint64, decimals uint32, url string) (string, error) {
	coll, err := c.l.Issue(vm.IssueParams{
		Name:        name,
		TotalSupply: totalSupply,
		Decimals:    decimals,
		URL:         url,
		Authority:   CustodyAddress,
	})
	if err != nil {
		return "", err
	}
	return coll.ID, nil
}

func (c *contextLedger) Creator(collectibleID string) (string, error) {
	coll, err := c.l.Collectible(collectibleID)
	if err != nil {
		return "", err
	}
	return coll.Creator, nil
}

func (c *contextLedger) Transfer(collectibleID, from, to string, amount uint64) error {
	return c.l.Transfer(collectibleID, CustodyAddress, from, to, amount)
}

func (c *contextLedger) Freeze(collectibleID, account string, frozen bool) error {
	return c.l.SetFrozen(collectibleID, CustodyAddress, account, frozen)
}

func (c *contextLedger) Pay(from, to string, amount uint64) error {
	if from != CustodyAddress {
		return fmt.Errorf("market can only pay from its custody account, not %s", from)
	}
	return c.l.Pay(from, to, amount)
}

func (c *contextLedger) Balance(collectibleID, account string) (uint64, error) {
	return c.l.Balance(collectibleID, account)
}
