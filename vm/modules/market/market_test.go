package market_test

import (
	"errors"
	"testing"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/internal/testutil"
	"github.com/tolelom/freedaplay/storage"
	"github.com/tolelom/freedaplay/vm"
	_ "github.com/tolelom/freedaplay/vm/modules/asset"
	_ "github.com/tolelom/freedaplay/vm/modules/economy"
	"github.com/tolelom/freedaplay/vm/modules/market"
	"github.com/tolelom/freedaplay/wallet"
)

const (
	chainID     = "freedaplay-test"
	startFunds  = 10_000_000
	unitValue   = 1_000_000
	athleteName = "Athlete NFT"
	athleteURL  = "https://example.com/athlete.json"
)

type harness struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	block  *core.Block
	admin  *wallet.Wallet
	alice  *wallet.Wallet
	bob    *wallet.Wallet
	collID string
}

// newHarness funds three accounts, creates the market with its collectible
// issued and opts alice in. The season starts inactive.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		state: testutil.NewStateDB(),
		block: core.NewBlock(1, "", "sequencer", nil),
		admin: mustWallet(t),
		alice: mustWallet(t),
		bob:   mustWallet(t),
	}
	h.exec = vm.NewExecutor(h.state, nil)
	for _, w := range []*wallet.Wallet{h.admin, h.alice, h.bob} {
		if err := h.state.SetAccount(&core.Account{Address: w.PubKey(), Balance: startFunds}); err != nil {
			t.Fatal(err)
		}
	}

	h.mustRun(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.CreateMarket(chainID, core.MarketCreatePayload{
			Collectible: &core.IssueCollectiblePayload{Name: athleteName, TotalSupply: 1000, URL: athleteURL},
		}, n, 0)
	})
	m, err := h.state.GetMarket()
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	h.collID = m.CollectibleID
	h.mustRun(h.alice, func(n uint64) (*core.Transaction, error) { return h.alice.OptIn(chainID, n, 0) })
	return h
}

func mustWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (h *harness) nonce(w *wallet.Wallet) uint64 {
	acc, err := h.state.GetAccount(w.PubKey())
	if err != nil {
		h.t.Fatal(err)
	}
	return acc.Nonce
}

func (h *harness) run(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) error {
	h.t.Helper()
	tx, err := build(h.nonce(w))
	if err != nil {
		h.t.Fatalf("build tx: %v", err)
	}
	return h.exec.ExecuteTx(h.block, tx)
}

func (h *harness) mustRun(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) {
	h.t.Helper()
	if err := h.run(w, build); err != nil {
		h.t.Fatalf("execute: %v", err)
	}
}

func (h *harness) toggle() error {
	return h.run(h.admin, func(n uint64) (*core.Transaction, error) { return h.admin.ToggleSeason(chainID, n, 0) })
}

func (h *harness) purchase(w *wallet.Wallet, payment uint64) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) {
		return w.Purchase(chainID, market.CustodyAddress, h.collID, payment, n, 0)
	})
}

func (h *harness) sell(w *wallet.Wallet) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) { return w.Sell(chainID, h.collID, n, 0) })
}

func (h *harness) unlock(w *wallet.Wallet) error {
	return h.run(w, func(n uint64) (*core.Transaction, error) { return w.Unlock(chainID, h.collID, n, 0) })
}

func (h *harness) transfer(from, to *wallet.Wallet) error {
	return h.run(from, func(n uint64) (*core.Transaction, error) {
		return from.TransferCollectible(chainID, h.collID, to.PubKey(), 1, n, 0)
	})
}

func (h *harness) season() uint64 {
	m, err := h.state.GetMarket()
	if err != nil {
		h.t.Fatal(err)
	}
	return m.SeasonActive
}

func (h *harness) holding(w *wallet.Wallet) *core.Holding {
	hd, err := h.state.GetHolding(h.collID, w.PubKey())
	if err != nil {
		h.t.Fatal(err)
	}
	return hd
}

func (h *harness) balance(addr string) uint64 {
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		h.t.Fatal(err)
	}
	return acc.Balance
}

func TestCreateIssuesCollectibleToCustody(t *testing.T) {
	h := newHarness(t)
	m, _ := h.state.GetMarket()
	if m.Admin != h.admin.PubKey() {
		t.Errorf("admin: got %s want %s", m.Admin, h.admin.PubKey())
	}
	if m.SeasonActive != 0 || m.CollectibleUnitValue != market.DefaultUnitValue {
		t.Errorf("initial market: season %d unit value %d", m.SeasonActive, m.CollectibleUnitValue)
	}

	c, err := h.state.GetCollectible(h.collID)
	if err != nil {
		t.Fatalf("GetCollectible: %v", err)
	}
	if c.TotalSupply != 1000 || c.Decimals != 0 || c.URL != athleteURL {
		t.Errorf("collectible params: %+v", c)
	}
	for name, addr := range map[string]string{
		"creator": c.Creator, "reserve": c.Reserve, "manager": c.Manager, "freeze": c.Freeze, "clawback": c.Clawback,
	} {
		if addr != market.CustodyAddress {
			t.Errorf("%s: got %s want custody", name, addr)
		}
	}
	reserve, _ := h.state.GetHolding(h.collID, market.CustodyAddress)
	if reserve.Amount != 1000 {
		t.Errorf("reserve: got %d want 1000", reserve.Amount)
	}
}

func TestCreateAndIssueOnlyOnce(t *testing.T) {
	h := newHarness(t)
	err := h.run(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.CreateMarket(chainID, core.MarketCreatePayload{}, n, 0)
	})
	if !errors.Is(err, market.ErrAlreadyInitialized) {
		t.Errorf("second create: got %v want ErrAlreadyInitialized", err)
	}
	err = h.run(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.IssueCollectible(chainID, core.IssueCollectiblePayload{Name: "Other", TotalSupply: 5}, n, 0)
	})
	if !errors.Is(err, market.ErrAlreadyInitialized) {
		t.Errorf("second issue: got %v want ErrAlreadyInitialized", err)
	}
}

func TestIssueRequiresAdmin(t *testing.T) {
	h := &harness{t: t, state: testutil.NewStateDB(), block: core.NewBlock(1, "", "s", nil), admin: mustWallet(t), alice: mustWallet(t)}
	h.exec = vm.NewExecutor(h.state, nil)
	h.mustRun(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.CreateMarket(chainID, core.MarketCreatePayload{UnitValue: 250}, n, 0)
	})
	if v, err := market.CollectibleUnitValue(h.state); err != nil || v != 250 {
		t.Errorf("unit value: got %d, %v want 250", v, err)
	}

	err := h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.IssueCollectible(chainID, core.IssueCollectiblePayload{Name: "X", TotalSupply: 1}, n, 0)
	})
	if !errors.Is(err, market.ErrNotAdmin) {
		t.Errorf("issue by non-admin: got %v want ErrNotAdmin", err)
	}
	h.mustRun(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.IssueCollectible(chainID, core.IssueCollectiblePayload{Name: "X", TotalSupply: 1}, n, 0)
	})
}

func TestOperationsBeforeCreate(t *testing.T) {
	state := testutil.NewStateDB()
	if _, err := market.CollectibleUnitValue(state); !errors.Is(err, market.ErrMarketNotCreated) {
		t.Errorf("unit value: got %v want ErrMarketNotCreated", err)
	}
	exec := vm.NewExecutor(state, nil)
	w := mustWallet(t)
	tx, _ := w.OptIn(chainID, 0, 0)
	if err := exec.ExecuteTx(core.NewBlock(1, "", "s", nil), tx); !errors.Is(err, market.ErrMarketNotCreated) {
		t.Errorf("opt in: got %v want ErrMarketNotCreated", err)
	}
}

func TestToggleSeason(t *testing.T) {
	h := newHarness(t)
	if err := h.toggle(); err != nil {
		t.Fatal(err)
	}
	if got := h.season(); got != 1 {
		t.Fatalf("after one toggle: got %d want 1", got)
	}
	if err := h.toggle(); err != nil {
		t.Fatal(err)
	}
	if got := h.season(); got != 0 {
		t.Errorf("after two toggles: got %d want 0", got)
	}

	err := h.run(h.alice, func(n uint64) (*core.Transaction, error) { return h.alice.ToggleSeason(chainID, n, 0) })
	if !errors.Is(err, market.ErrNotAdmin) {
		t.Errorf("toggle by non-admin: got %v want ErrNotAdmin", err)
	}
	if got := h.season(); got != 0 {
		t.Errorf("season changed by rejected toggle: %d", got)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness(t)
	before, _ := h.state.GetMarketAccount(h.alice.PubKey())
	h.mustRun(h.alice, func(n uint64) (*core.Transaction, error) { return h.alice.OptIn(chainID, n, 0) })
	after, _ := h.state.GetMarketAccount(h.alice.PubKey())
	if *before != *after {
		t.Errorf("re-register changed record: %+v -> %+v", before, after)
	}
}

// The full season walk: buy while the season runs, stay frozen, unlock after.
func TestSeasonLifecycle(t *testing.T) {
	h := newHarness(t)
	if err := h.toggle(); err != nil {
		t.Fatal(err)
	}
	if err := h.purchase(h.alice, 1_002_000); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	hd := h.holding(h.alice)
	if hd.Amount != 1 || !hd.Frozen {
		t.Fatalf("after purchase: amount %d frozen %v, want 1 frozen", hd.Amount, hd.Frozen)
	}
	if got := h.balance(market.CustodyAddress); got != 1_002_000 {
		t.Errorf("custody balance: got %d want 1002000", got)
	}
	if got := h.balance(h.alice.PubKey()); got != startFunds-1_002_000 {
		t.Errorf("alice balance: got %d", got)
	}

	if err := h.transfer(h.alice, h.bob); !errors.Is(err, vm.ErrHoldingFrozen) {
		t.Errorf("transfer while frozen: got %v want ErrHoldingFrozen", err)
	}
	if err := h.unlock(h.alice); !errors.Is(err, market.ErrSeasonActive) {
		t.Errorf("unlock during season: got %v want ErrSeasonActive", err)
	}

	if err := h.toggle(); err != nil {
		t.Fatal(err)
	}
	if err := h.unlock(h.alice); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if h.holding(h.alice).Frozen {
		t.Error("holding still frozen after unlock")
	}
	if err := h.transfer(h.alice, h.bob); err != nil {
		t.Fatalf("transfer after unlock: %v", err)
	}
	if got := h.holding(h.bob).Amount; got != 1 {
		t.Errorf("bob holding: got %d want 1", got)
	}
	if v, _ := market.CollectibleUnitValue(h.state); v != unitValue {
		t.Errorf("unit value changed: %d", v)
	}
}

func TestPurchaseOutsideSeasonRevertsPayment(t *testing.T) {
	h := newHarness(t)
	if err := h.purchase(h.alice, unitValue); !errors.Is(err, market.ErrSeasonNotActive) {
		t.Fatalf("got %v want ErrSeasonNotActive", err)
	}
	if got := h.balance(h.alice.PubKey()); got != startFunds {
		t.Errorf("payment leaked: alice balance %d", got)
	}
	if got := h.holding(h.alice).Amount; got != 0 {
		t.Errorf("holding: got %d want 0", got)
	}
}

func TestPurchaseUnderpaymentRejected(t *testing.T) {
	h := newHarness(t)
	h.toggle()
	if err := h.purchase(h.alice, 500_000); !errors.Is(err, market.ErrInvalidPayment) {
		t.Fatalf("got %v want ErrInvalidPayment", err)
	}
	if got := h.balance(market.CustodyAddress); got != 0 {
		t.Errorf("custody received %d from a failed purchase", got)
	}
}

func TestPurchaseMustFollowPayment(t *testing.T) {
	h := newHarness(t)
	h.toggle()

	// purchase on its own
	err := h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.NewTx(chainID, core.TxMarketPurchase, n, 0, core.CollectiblePayload{CollectibleID: h.collID})
	})
	if !errors.Is(err, market.ErrInvalidPayment) {
		t.Errorf("lone purchase: got %v want ErrInvalidPayment", err)
	}

	// one payment funding two purchases
	err = h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		pay, _ := h.alice.Pay(chainID, market.CustodyAddress, unitValue, n+1, 0)
		p1, _ := h.alice.NewTx(chainID, core.TxMarketPurchase, n+2, 0, core.CollectiblePayload{CollectibleID: h.collID})
		p2, _ := h.alice.NewTx(chainID, core.TxMarketPurchase, n+3, 0, core.CollectiblePayload{CollectibleID: h.collID})
		return h.alice.Group(chainID, n, 0, pay, p1, p2)
	})
	if !errors.Is(err, market.ErrInvalidPayment) {
		t.Errorf("double purchase: got %v want ErrInvalidPayment", err)
	}

	// payment to someone else
	err = h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.Purchase(chainID, h.bob.PubKey(), h.collID, unitValue, n, 0)
	})
	if !errors.Is(err, market.ErrInvalidPayment) {
		t.Errorf("payment to wrong receiver: got %v want ErrInvalidPayment", err)
	}
	if got := h.holding(h.alice).Amount; got != 0 {
		t.Errorf("holding: got %d want 0", got)
	}
}

func TestPurchaseRequiresOptIn(t *testing.T) {
	h := newHarness(t)
	h.toggle()
	if err := h.purchase(h.bob, unitValue); !errors.Is(err, market.ErrNotOptedIn) {
		t.Errorf("got %v want ErrNotOptedIn", err)
	}
}

func TestUnknownCollectible(t *testing.T) {
	h := newHarness(t)
	h.toggle()
	err := h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.Purchase(chainID, market.CustodyAddress, "deadbeef", unitValue, n, 0)
	})
	if !errors.Is(err, market.ErrUnknownCollectible) {
		t.Errorf("got %v want ErrUnknownCollectible", err)
	}
}

func TestRepeatPurchaseWhileFrozen(t *testing.T) {
	h := newHarness(t)
	h.toggle()
	for i := 0; i < 2; i++ {
		if err := h.purchase(h.alice, unitValue); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if got := h.holding(h.alice).Amount; got != 2 {
		t.Errorf("holding: got %d want 2", got)
	}
	acct, _ := h.state.GetMarketAccount(h.alice.PubKey())
	if acct.Purchases != 2 {
		t.Errorf("purchases: got %d want 2", acct.Purchases)
	}
}

func TestPurchaseThenSell(t *testing.T) {
	h := newHarness(t)
	h.toggle()
	if err := h.purchase(h.alice, 1_002_000); err != nil {
		t.Fatal(err)
	}
	if err := h.sell(h.alice); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got := h.holding(h.alice).Amount; got != 0 {
		t.Errorf("holding: got %d want 0", got)
	}
	if got := h.balance(h.alice.PubKey()); got != startFunds-1_002_000+unitValue {
		t.Errorf("alice balance: got %d", got)
	}
	if got := h.balance(market.CustodyAddress); got != 2_000 {
		t.Errorf("custody keeps the overpayment: got %d want 2000", got)
	}
	reserve, _ := h.state.GetHolding(h.collID, market.CustodyAddress)
	if reserve.Amount != 1000 {
		t.Errorf("reserve: got %d want 1000", reserve.Amount)
	}
	acct, _ := h.state.GetMarketAccount(h.alice.PubKey())
	if acct.Sales != 1 {
		t.Errorf("sales: got %d want 1", acct.Sales)
	}
}

func TestSellRequiresHoldingAndSeason(t *testing.T) {
	h := newHarness(t)
	if err := h.sell(h.alice); !errors.Is(err, market.ErrSeasonNotActive) {
		t.Errorf("sell outside season: got %v want ErrSeasonNotActive", err)
	}
	h.toggle()
	if err := h.sell(h.alice); !errors.Is(err, market.ErrInsufficientHolding) {
		t.Errorf("sell with nothing: got %v want ErrInsufficientHolding", err)
	}
}

func TestCollectibleURL(t *testing.T) {
	h := newHarness(t)
	if got, _ := market.CollectibleURL(h.state); got != athleteURL {
		t.Errorf("initial url: got %q", got)
	}
	h.mustRun(h.admin, func(n uint64) (*core.Transaction, error) {
		return h.admin.SetCollectibleURL(chainID, "ipfs://new", n, 0)
	})
	if got, _ := market.CollectibleURL(h.state); got != "ipfs://new" {
		t.Errorf("url: got %q want ipfs://new", got)
	}
	err := h.run(h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.SetCollectibleURL(chainID, "ipfs://evil", n, 0)
	})
	if !errors.Is(err, market.ErrNotAdmin) {
		t.Errorf("set url by non-admin: got %v want ErrNotAdmin", err)
	}
	if got, _ := market.CollectibleURL(h.state); got != "ipfs://new" {
		t.Errorf("url after rejected update: got %q want ipfs://new", got)
	}
}

func TestUnlockRequiresHolding(t *testing.T) {
	h := newHarness(t)
	root := h.state.ComputeRoot()
	if err := h.unlock(h.alice); !errors.Is(err, market.ErrInsufficientHolding) {
		t.Fatalf("got %v want ErrInsufficientHolding", err)
	}
	if h.state.ComputeRoot() != root {
		t.Error("rejected unlock changed state")
	}
}
