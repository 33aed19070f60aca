package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BaseUnitDecimals is the number of minor units per whole base-currency unit.
const BaseUnitDecimals = 6

// Receipt records how a request ended. Result carries operation return
// values such as the caller's collectible balance after a purchase.
type Receipt struct {
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// FormatAmount renders minor units as a whole-unit decimal string, e.g.
// 1002000 → "1.002".
func FormatAmount(minor uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(minor), -BaseUnitDecimals).String()
}
