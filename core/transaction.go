package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/freedaplay/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxPayment             TxType = "payment"
	TxTransferCollectible TxType = "transfer_collectible"
	TxGroup               TxType = "group"

	TxMarketCreate       TxType = "market_create"
	TxMarketOptIn        TxType = "market_opt_in"
	TxMarketIssue        TxType = "market_issue"
	TxMarketPurchase     TxType = "market_purchase"
	TxMarketSell         TxType = "market_sell"
	TxMarketUnlock       TxType = "market_unlock"
	TxMarketToggleSeason TxType = "market_toggle_season"
	TxMarketSetURL       TxType = "market_set_url"
)

// MaxGroupSize bounds the number of members in an atomic group.
const MaxGroupSize = 16

// Transaction is a signed request. From is the sender's hex ed25519 public key.
// Signature covers every field except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns the hash of the signed body. Marshalling a signingBody cannot
// fail, so the empty-string branch is unreachable in practice.
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Signature and ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks that From is a public key and that it signed the body.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// Members returns the ordered requests an envelope bundles. A transaction
// that is not a group is a group of one.
func (tx *Transaction) Members() ([]*Transaction, error) {
	if tx.Type != TxGroup {
		return []*Transaction{tx}, nil
	}
	var p GroupPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode group payload: %w", err)
	}
	if len(p.Txs) == 0 {
		return nil, errors.New("group must contain at least one transaction")
	}
	if len(p.Txs) > MaxGroupSize {
		return nil, fmt.Errorf("group has %d members, max %d", len(p.Txs), MaxGroupSize)
	}
	for i, m := range p.Txs {
		if m == nil {
			return nil, fmt.Errorf("group member %d is empty", i)
		}
		if m.Type == TxGroup {
			return nil, fmt.Errorf("group member %d: nested groups are not allowed", i)
		}
		if m.ChainID != tx.ChainID {
			return nil, fmt.Errorf("group member %d: chain ID %q does not match envelope %q", i, m.ChainID, tx.ChainID)
		}
	}
	return p.Txs, nil
}

// NewTransaction builds an unsigned transaction stamped with the current time.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// PaymentPayload moves base currency.
type PaymentPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TransferCollectiblePayload is an ordinary holder-to-holder collectible move.
type TransferCollectiblePayload struct {
	CollectibleID string `json:"collectible_id"`
	To            string `json:"to"`
	Amount        uint64 `json:"amount"`
}

// GroupPayload bundles individually signed transactions that commit or fail together.
type GroupPayload struct {
	Txs []*Transaction `json:"txs"`
}

// IssueCollectiblePayload describes a capped-supply collectible to mint.
type IssueCollectiblePayload struct {
	Name        string `json:"name"`
	TotalSupply uint64 `json:"total_supply"`
	URL         string `json:"url"`
}

// MarketCreatePayload bootstraps the market. A zero UnitValue selects the
// default price; a non-nil Collectible is issued in the same request.
type MarketCreatePayload struct {
	UnitValue   uint64                   `json:"unit_value,omitempty"`
	Collectible *IssueCollectiblePayload `json:"collectible,omitempty"`
}

// CollectiblePayload names the collectible a purchase, sale or unlock acts on.
type CollectiblePayload struct {
	CollectibleID string `json:"collectible_id"`
}

// SetURLPayload replaces the collectible metadata URL.
type SetURLPayload struct {
	URL string `json:"url"`
}
