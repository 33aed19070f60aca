// Package wallet holds signing keys and builds signed market requests.
package wallet

import (
	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
)

// Wallet is a key pair plus request builders. Every builder takes the
// sender's current nonce; group builders consume one nonce per member plus
// one for the envelope.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New wraps an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a fresh key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key.
func (w *Wallet) PrivKey() crypto.PrivateKey { return w.priv }

// PubKey returns the hex public key, which is the account address.
func (w *Wallet) PubKey() string { return w.pub.Hex() }

// NewTx builds and signs a transaction.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Group wraps already signed members in an envelope signed by w. The
// members commit together or not at all.
func (w *Wallet) Group(chainID string, nonce, fee uint64, members ...*core.Transaction) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxGroup, nonce, fee, core.GroupPayload{Txs: members})
}

// Pay builds a base-currency payment.
func (w *Wallet) Pay(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxPayment, nonce, fee, core.PaymentPayload{To: to, Amount: amount})
}

// TransferCollectible builds a holder-to-holder collectible transfer.
func (w *Wallet) TransferCollectible(chainID, collectibleID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransferCollectible, nonce, fee, core.TransferCollectiblePayload{
		CollectibleID: collectibleID,
		To:            to,
		Amount:        amount,
	})
}

// CreateMarket builds the market bootstrap request; w becomes admin.
func (w *Wallet) CreateMarket(chainID string, p core.MarketCreatePayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketCreate, nonce, fee, p)
}

// OptIn builds the market registration request.
func (w *Wallet) OptIn(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketOptIn, nonce, fee, struct{}{})
}

// IssueCollectible builds the admin-only collectible issuance request.
func (w *Wallet) IssueCollectible(chainID string, p core.IssueCollectiblePayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketIssue, nonce, fee, p)
}

// Purchase builds the atomic [payment, purchase] group that buys one unit.
// It uses nonce for the envelope and nonce+1, nonce+2 for the members.
func (w *Wallet) Purchase(chainID, custody, collectibleID string, payment, nonce, fee uint64) (*core.Transaction, error) {
	pay, err := w.Pay(chainID, custody, payment, nonce+1, 0)
	if err != nil {
		return nil, err
	}
	call, err := w.NewTx(chainID, core.TxMarketPurchase, nonce+2, 0, core.CollectiblePayload{CollectibleID: collectibleID})
	if err != nil {
		return nil, err
	}
	return w.Group(chainID, nonce, fee, pay, call)
}

// Sell builds a request that sells one unit back to the market.
func (w *Wallet) Sell(chainID, collectibleID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketSell, nonce, fee, core.CollectiblePayload{CollectibleID: collectibleID})
}

// Unlock builds a request that unfreezes the sender's holding after the season.
func (w *Wallet) Unlock(chainID, collectibleID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketUnlock, nonce, fee, core.CollectiblePayload{CollectibleID: collectibleID})
}

// ToggleSeason builds the admin-only season flip.
func (w *Wallet) ToggleSeason(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketToggleSeason, nonce, fee, struct{}{})
}

// SetCollectibleURL builds the admin-only metadata URL update.
func (w *Wallet) SetCollectibleURL(chainID, url string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketSetURL, nonce, fee, core.SetURLPayload{URL: url})
}
