package core

// Account holds a participant's base-currency balance and replay nonce.
// Address is a hex ed25519 public key or an application address.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Collectible is a capped-supply ledger asset. The four authority addresses
// decide who may hold the unsold reserve, reconfigure, freeze holdings and
// claw units back.
type Collectible struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalSupply uint64 `json:"total_supply"`
	Decimals    uint32 `json:"decimals"`
	URL         string `json:"url"`
	Creator     string `json:"creator"`
	Reserve     string `json:"reserve"`
	Manager     string `json:"manager"`
	Freeze      string `json:"freeze"`
	Clawback    string `json:"clawback"`
	IssuedAt    int64  `json:"issued_at"`
}

// Holding is one account's position in one collectible. A frozen holding
// can only be moved by the collectible's clawback authority.
type Holding struct {
	CollectibleID string `json:"collectible_id"`
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Frozen        bool   `json:"frozen"`
}

// Market is the single global record of the season-gated collectible market.
// SeasonActive is stored as 0/1; any other value is corrupt state.
type Market struct {
	Admin                string `json:"admin"`
	Custody              string `json:"custody"`
	CollectibleUnitValue uint64 `json:"collectible_unit_value"`
	SeasonActive         uint64 `json:"season_active"`
	CollectibleID        string `json:"collectible_id,omitempty"`
	CollectibleURL       string `json:"collectible_url,omitempty"`
	CreatedAt            int64  `json:"created_at"`
}

// MarketAccount is the per-account record allocated on opt-in. The
// collectible balance itself lives in the ledger Holding.
type MarketAccount struct {
	Address   string `json:"address"`
	OptedInAt int64  `json:"opted_in_at"`
	Purchases uint64 `json:"purchases"`
	Sales     uint64 `json:"sales"`
}

// State is the ledger state. Implementations must support snapshots so the
// executor can roll back a failed request.
type State interface {
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	GetCollectible(id string) (*Collectible, error)
	SetCollectible(c *Collectible) error

	// GetHolding returns a zero-amount, unfrozen holding when none is stored.
	GetHolding(collectibleID, address string) (*Holding, error)
	SetHolding(h *Holding) error

	GetMarket() (*Market, error)
	SetMarket(m *Market) error

	GetMarketAccount(address string) (*MarketAccount, error)
	SetMarketAccount(a *MarketAccount) error

	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot hashes the full state including the write buffer without
	// flushing it. Call before sealing a block.
	ComputeRoot() string
	// Commit flushes the write buffer and discards snapshots.
	Commit() error
}
