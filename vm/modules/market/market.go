// Package market implements the season-gated collectible market: a single
// admin-configured market that sells one capped collectible at a fixed
// price, freezes purchased units while a season runs, buys them back during
// the season and releases the freeze once the season ends.
//
// All preconditions of an operation are checked before it writes anything
// or asks the ledger to move value. The hosting executor runs each request
// under a state snapshot, so a failure in a later ledger step rolls back the
// earlier ones as well.
package market

import (
	"errors"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
)

const (
	// AppName seeds the custodial address.
	AppName = "collectible-market"

	// DefaultUnitValue is the price of one collectible in base-currency minor
	// units, used when Create is given zero.
	DefaultUnitValue uint64 = 1_000_000

	seasonInactive uint64 = 0
	seasonActive   uint64 = 1
)

// CustodyAddress is the market's own account. It receives purchase
// payments, holds the unsold reserve and is the collectible's freeze and
// clawback authority.
var CustodyAddress = crypto.AppAddress(AppName)

// CollectibleMarket runs market operations for one caller against a ledger
// and a store. Build one per request.
type CollectibleMarket struct {
	ledger Ledger
	store  Store
}

// New binds a CollectibleMarket to a ledger and store.
func New(ledger Ledger, store Store) *CollectibleMarket {
	return &CollectibleMarket{ledger: ledger, store: store}
}

// Create bootstraps the market with the caller as admin and the season
// inactive. A zero unitValue selects DefaultUnitValue. The price cannot be
// changed afterwards.
func (cm *CollectibleMarket) Create(unitValue uint64) (*core.Market, error) {
	if _, err := cm.store.GetMarket(); err == nil {
		return nil, fmt.Errorf("%w: market already created", ErrAlreadyInitialized)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("load market: %w", err)
	}
	if unitValue == 0 {
		unitValue = DefaultUnitValue
	}
	m := &core.Market{
		Admin:                cm.ledger.Caller(),
		Custody:              CustodyAddress,
		CollectibleUnitValue: unitValue,
		SeasonActive:         seasonInactive,
		CreatedAt:            cm.ledger.Now(),
	}
	if err := cm.store.SetMarket(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Register opts the caller in. Registering twice leaves the existing record
// untouched.
func (cm *CollectibleMarket) Register() (*core.MarketAccount, error) {
	if _, err := cm.market(); err != nil {
		return nil, err
	}
	caller := cm.ledger.Caller()
	acct, err := cm.store.GetMarketAccount(caller)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("load account %s: %w", caller, err)
	}
	acct = &core.MarketAccount{Address: caller, OptedInAt: cm.ledger.Now()}
	if err := cm.store.SetMarketAccount(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// IssueCollectible mints the market's collectible: zero decimals, every
// authority held by the custodial address, whole supply in reserve. Only
// the admin may call it and only once per market.
func (cm *CollectibleMarket) IssueCollectible(name string, totalSupply uint64, url string) (string, error) {
	m, err := cm.market()
	if err != nil {
		return "", err
	}
	if err := cm.requireAdmin(m); err != nil {
		return "", err
	}
	if m.CollectibleID != "" {
		return "", fmt.Errorf("%w: collectible %s already issued", ErrAlreadyInitialized, m.CollectibleID)
	}
	if name == "" {
		return "", errors.New("collectible name required")
	}
	if totalSupply == 0 {
		return "", errors.New("total supply must be > 0")
	}

	id, err := cm.ledger.Issue(name, totalSupply, 0, url)
	if err != nil {
		return "", delegation("issue", err)
	}
	m.CollectibleID = id
	m.CollectibleURL = url
	if err := cm.store.SetMarket(m); err != nil {
		return "", err
	}
	return id, nil
}

// Purchase sells one unit to the caller. The call must directly follow a
// payment of at least the unit value to the custodial address, and that
// payment must open the request group. The unit is frozen in the caller's
// account for as long as the season runs. Returns the caller's balance.
func (cm *CollectibleMarket) Purchase(collectibleID string) (uint64, error) {
	m, err := cm.market()
	if err != nil {
		return 0, err
	}
	caller := cm.ledger.Caller()
	acct, err := cm.optedIn(caller)
	if err != nil {
		return 0, err
	}
	if err := cm.requireOwnCollectible(m, collectibleID); err != nil {
		return 0, err
	}
	active, err := season(m)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrSeasonNotActive
	}
	if err := cm.requirePayment(m); err != nil {
		return 0, err
	}

	if err := cm.ledger.Transfer(collectibleID, CustodyAddress, caller, 1); err != nil {
		return 0, delegation("transfer from reserve", err)
	}
	if err := cm.ledger.Freeze(collectibleID, caller, active); err != nil {
		return 0, delegation("freeze", err)
	}
	acct.Purchases++
	if err := cm.store.SetMarketAccount(acct); err != nil {
		return 0, err
	}
	return cm.balance(collectibleID, caller)
}

// Sell buys one unit back from the caller at the unit value. The unit is
// clawed back because it is normally frozen. Returns the caller's balance.
func (cm *CollectibleMarket) Sell(collectibleID string) (uint64, error) {
	m, err := cm.market()
	if err != nil {
		return 0, err
	}
	caller := cm.ledger.Caller()
	acct, err := cm.optedIn(caller)
	if err != nil {
		return 0, err
	}
	if err := cm.requireOwnCollectible(m, collectibleID); err != nil {
		return 0, err
	}
	active, err := season(m)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrSeasonNotActive
	}
	held, err := cm.balance(collectibleID, caller)
	if err != nil {
		return 0, err
	}
	if held == 0 {
		return 0, fmt.Errorf("%w: %s holds no units", ErrInsufficientHolding, caller)
	}

	if err := cm.ledger.Transfer(collectibleID, caller, CustodyAddress, 1); err != nil {
		return 0, delegation("clawback", err)
	}
	if err := cm.ledger.Pay(CustodyAddress, caller, m.CollectibleUnitValue); err != nil {
		return 0, delegation("refund", err)
	}
	acct.Sales++
	if err := cm.store.SetMarketAccount(acct); err != nil {
		return 0, err
	}
	return cm.balance(collectibleID, caller)
}

// Unlock clears the freeze on the caller's holding once the season is over.
// The caller must hold at least one unit.
func (cm *CollectibleMarket) Unlock(collectibleID string) error {
	m, err := cm.market()
	if err != nil {
		return err
	}
	caller := cm.ledger.Caller()
	if _, err := cm.optedIn(caller); err != nil {
		return err
	}
	if err := cm.requireOwnCollectible(m, collectibleID); err != nil {
		return err
	}
	active, err := season(m)
	if err != nil {
		return err
	}
	if active {
		return ErrSeasonActive
	}
	held, err := cm.balance(collectibleID, caller)
	if err != nil {
		return err
	}
	if held == 0 {
		return fmt.Errorf("%w: %s holds no units", ErrInsufficientHolding, caller)
	}
	if err := cm.ledger.Freeze(collectibleID, caller, false); err != nil {
		return delegation("unfreeze", err)
	}
	return nil
}

// ToggleSeason flips the season flag and returns the new value (0 or 1).
func (cm *CollectibleMarket) ToggleSeason() (uint64, error) {
	m, err := cm.market()
	if err != nil {
		return 0, err
	}
	if err := cm.requireAdmin(m); err != nil {
		return 0, err
	}
	active, err := season(m)
	if err != nil {
		return 0, err
	}
	if active {
		m.SeasonActive = seasonInactive
	} else {
		m.SeasonActive = seasonActive
	}
	if err := cm.store.SetMarket(m); err != nil {
		return 0, err
	}
	return m.SeasonActive, nil
}

// SetCollectibleURL replaces the metadata URL. The content is not validated.
func (cm *CollectibleMarket) SetCollectibleURL(url string) error {
	m, err := cm.market()
	if err != nil {
		return err
	}
	if err := cm.requireAdmin(m); err != nil {
		return err
	}
	m.CollectibleURL = url
	return cm.store.SetMarket(m)
}

// CollectibleUnitValue reads the fixed price.
func CollectibleUnitValue(s Store) (uint64, error) {
	m, err := loadMarket(s)
	if err != nil {
		return 0, err
	}
	return m.CollectibleUnitValue, nil
}

// CollectibleURL reads the current metadata URL.
func CollectibleURL(s Store) (string, error) {
	m, err := loadMarket(s)
	if err != nil {
		return "", err
	}
	return m.CollectibleURL, nil
}

// ---- helpers ----

func loadMarket(s Store) (*core.Market, error) {
	m, err := s.GetMarket()
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrMarketNotCreated
	}
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	return m, nil
}

func (cm *CollectibleMarket) market() (*core.Market, error) {
	return loadMarket(cm.store)
}

func season(m *core.Market) (bool, error) {
	switch m.SeasonActive {
	case seasonInactive:
		return false, nil
	case seasonActive:
		return true, nil
	default:
		return false, fmt.Errorf("%w: season flag %d", ErrCorruptState, m.SeasonActive)
	}
}

func (cm *CollectibleMarket) requireAdmin(m *core.Market) error {
	if cm.ledger.Caller() != m.Admin {
		return ErrNotAdmin
	}
	return nil
}

func (cm *CollectibleMarket) optedIn(addr string) (*core.MarketAccount, error) {
	acct, err := cm.store.GetMarketAccount(addr)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotOptedIn, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", addr, err)
	}
	return acct, nil
}

func (cm *CollectibleMarket) requireOwnCollectible(m *core.Market, collectibleID string) error {
	if collectibleID == "" || collectibleID != m.CollectibleID {
		return fmt.Errorf("%w: %q", ErrUnknownCollectible, collectibleID)
	}
	creator, err := cm.ledger.Creator(collectibleID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %q does not exist", ErrUnknownCollectible, collectibleID)
	}
	if err != nil {
		return delegation("read collectible", err)
	}
	if creator != CustodyAddress {
		return fmt.Errorf("%w: %q was not issued by this market", ErrUnknownCollectible, collectibleID)
	}
	return nil
}

// requirePayment checks that the group opens with a sufficient payment to
// custody and that this call comes right after it, so one payment cannot
// fund two purchases. No other member may sit between the payment and the
// purchase.
func (cm *CollectibleMarket) requirePayment(m *core.Market) error {
	group, idx := cm.ledger.RequestGroup()
	if len(group) == 0 || idx != 1 {
		return fmt.Errorf("%w: purchase must directly follow a payment at the start of the group", ErrInvalidPayment)
	}
	pay := group[0]
	switch {
	case pay.Type != core.TxPayment:
		return fmt.Errorf("%w: first group member is %q, not a payment", ErrInvalidPayment, pay.Type)
	case pay.Receiver != CustodyAddress:
		return fmt.Errorf("%w: payment receiver is not the market", ErrInvalidPayment)
	case pay.Amount < m.CollectibleUnitValue:
		return fmt.Errorf("%w: paid %d, price is %d", ErrInvalidPayment, pay.Amount, m.CollectibleUnitValue)
	}
	return nil
}

func (cm *CollectibleMarket) balance(collectibleID, addr string) (uint64, error) {
	bal, err := cm.ledger.Balance(collectibleID, addr)
	if err != nil {
		return 0, delegation("read balance", err)
	}
	return bal, nil
}
