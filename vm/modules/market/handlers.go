package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/events"
	"github.com/tolelom/freedaplay/vm"
)

func init() {
	vm.Register(core.TxMarketCreate, handleCreate)
	vm.Register(core.TxMarketOptIn, handleOptIn)
	vm.Register(core.TxMarketIssue, handleIssue)
	vm.Register(core.TxMarketPurchase, handlePurchase)
	vm.Register(core.TxMarketSell, handleSell)
	vm.Register(core.TxMarketUnlock, handleUnlock)
	vm.Register(core.TxMarketToggleSeason, handleToggleSeason)
	vm.Register(core.TxMarketSetURL, handleSetURL)
}

func bind(ctx *vm.Context) *CollectibleMarket {
	return New(newContextLedger(ctx), ctx.State)
}

func decode(payload json.RawMessage, typ core.TxType, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return nil
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketCreatePayload
	if err := decode(payload, core.TxMarketCreate, &p); err != nil {
		return err
	}
	cm := bind(ctx)
	m, err := cm.Create(p.UnitValue)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventMarketCreated, map[string]any{
		"admin":      m.Admin,
		"custody":    m.Custody,
		"unit_value": m.CollectibleUnitValue,
	})

	if p.Collectible == nil {
		return nil
	}
	return issue(ctx, cm, p.Collectible)
}

func handleOptIn(ctx *vm.Context, _ json.RawMessage) error {
	acct, err := bind(ctx).Register()
	if err != nil {
		return err
	}
	ctx.Emit(events.EventMarketOptIn, map[string]any{"account": acct.Address})
	return nil
}

func handleIssue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.IssueCollectiblePayload
	if err := decode(payload, core.TxMarketIssue, &p); err != nil {
		return err
	}
	return issue(ctx, bind(ctx), &p)
}

func issue(ctx *vm.Context, cm *CollectibleMarket, p *core.IssueCollectiblePayload) error {
	id, err := cm.IssueCollectible(p.Name, p.TotalSupply, p.URL)
	if err != nil {
		return err
	}
	ctx.SetResult("collectible_id", id)
	return nil
}

func handlePurchase(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CollectiblePayload
	if err := decode(payload, core.TxMarketPurchase, &p); err != nil {
		return err
	}
	bal, err := bind(ctx).Purchase(p.CollectibleID)
	if err != nil {
		return err
	}
	ctx.SetResult("collectible_balance", bal)
	ctx.Emit(events.EventMarketPurchase, map[string]any{
		"collectible_id": p.CollectibleID,
		"buyer":          ctx.Tx.From,
		"balance":        bal,
	})
	return nil
}

func handleSell(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CollectiblePayload
	if err := decode(payload, core.TxMarketSell, &p); err != nil {
		return err
	}
	bal, err := bind(ctx).Sell(p.CollectibleID)
	if err != nil {
		return err
	}
	ctx.SetResult("collectible_balance", bal)
	ctx.Emit(events.EventMarketSale, map[string]any{
		"collectible_id": p.CollectibleID,
		"seller":         ctx.Tx.From,
		"balance":        bal,
	})
	return nil
}

func handleUnlock(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CollectiblePayload
	if err := decode(payload, core.TxMarketUnlock, &p); err != nil {
		return err
	}
	if err := bind(ctx).Unlock(p.CollectibleID); err != nil {
		return err
	}
	ctx.Emit(events.EventMarketUnlock, map[string]any{
		"collectible_id": p.CollectibleID,
		"account":        ctx.Tx.From,
	})
	return nil
}

func handleToggleSeason(ctx *vm.Context, _ json.RawMessage) error {
	active, err := bind(ctx).ToggleSeason()
	if err != nil {
		return err
	}
	ctx.SetResult("season_active", active)
	ctx.Emit(events.EventSeasonToggled, map[string]any{"season_active": active})
	return nil
}

func handleSetURL(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetURLPayload
	if err := decode(payload, core.TxMarketSetURL, &p); err != nil {
		return err
	}
	if err := bind(ctx).SetCollectibleURL(p.URL); err != nil {
		return err
	}
	ctx.Emit(events.EventCollectibleURL, map[string]any{"url": p.URL})
	return nil
}
