// Package economy implements base-currency payments.
package economy

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/vm"
)

func init() {
	vm.Register(core.TxPayment, handlePayment)
}

func handlePayment(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PaymentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payment payload: %w", err)
	}
	return ctx.Ledger().Pay(ctx.Tx.From, p.To, p.Amount)
}
