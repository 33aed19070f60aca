// Package asset implements holder-initiated collectible transfers.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
	"github.com/tolelom/freedaplay/vm"
)

func init() {
	vm.Register(core.TxTransferCollectible, handleTransferCollectible)
}

// handleTransferCollectible moves units the sender holds. Frozen holdings
// are rejected by the ledger; only the clawback authority can move those.
func handleTransferCollectible(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferCollectiblePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_collectible payload: %w", err)
	}
	if p.CollectibleID == "" {
		return errors.New("collectible_id required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	amount := p.Amount
	if amount == 0 {
		amount = 1
	}
	from := ctx.Tx.From
	if err := ctx.Ledger().Transfer(p.CollectibleID, from, from, p.To, amount); err != nil {
		return err
	}
	bal, err := ctx.Ledger().Balance(p.CollectibleID, from)
	if err != nil {
		return err
	}
	ctx.SetResult("collectible_balance", bal)
	return nil
}
