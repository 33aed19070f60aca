package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tolelom/freedaplay/config"
	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
	"github.com/tolelom/freedaplay/events"
	"github.com/tolelom/freedaplay/indexer"
	"github.com/tolelom/freedaplay/internal/testutil"
	"github.com/tolelom/freedaplay/sequencer"
	"github.com/tolelom/freedaplay/storage"
	"github.com/tolelom/freedaplay/vm"
	_ "github.com/tolelom/freedaplay/vm/modules/asset"
	_ "github.com/tolelom/freedaplay/vm/modules/economy"
	"github.com/tolelom/freedaplay/vm/modules/market"
	"github.com/tolelom/freedaplay/wallet"
)

type testNode struct {
	cfg     *config.Config
	mempool *core.Mempool
	seq     *sequencer.Sequencer
	srv     *httptest.Server
	admin   *wallet.Wallet
	alice   *wallet.Wallet
}

func newTestNode(t *testing.T, authToken string) *testNode {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	admin, _ := wallet.Generate()
	alice, _ := wallet.Generate()

	cfg := config.DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{admin.PubKey(): 10_000_000, alice.PubKey(): 10_000_000}

	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}
	genesis, err := config.CreateGenesisBlock(cfg, state, priv)
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter)

	handler := NewHandler(bc, mempool, storage.NewStateDB(db), idx, cfg.Genesis.ChainID)
	s := NewServer("127.0.0.1:0", handler, authToken)
	srv := httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(srv.Close)

	return &testNode{
		cfg:     cfg,
		mempool: mempool,
		seq:     sequencer.New(cfg, bc, state, mempool, exec, emitter, priv),
		srv:     srv,
		admin:   admin,
		alice:   alice,
	}
}

func (n *testNode) call(t *testing.T, method string, params any) Response {
	t.Helper()
	resp, _ := n.callWithHeader(t, method, params, nil)
	return resp
}

func (n *testNode) callWithHeader(t *testing.T, method string, params any, header http.Header) (Response, http.Header) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	req, _ := http.NewRequest(http.MethodPost, n.srv.URL, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer httpResp.Body.Close()
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, httpResp.Header
}

func (n *testNode) send(t *testing.T, tx *core.Transaction) string {
	t.Helper()
	resp := n.call(t, "sendTx", tx)
	if resp.Error != nil {
		t.Fatalf("sendTx %s: %s", tx.Type, resp.Error.Message)
	}
	return resp.Result.(map[string]any)["tx_id"].(string)
}

func (n *testNode) produce(t *testing.T) {
	t.Helper()
	if _, err := n.seq.ProduceBlock(); err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
}

// decode re-marshals a generic result into v.
func decode(t *testing.T, result any, v any) {
	t.Helper()
	raw, _ := json.Marshal(result)
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatal(err)
	}
}

func TestMethodNotFound(t *testing.T) {
	n := newTestNode(t, "")
	resp := n.call(t, "noSuchMethod", nil)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("got %+v want CodeMethodNotFound", resp.Error)
	}
}

func TestAuthAndRequestID(t *testing.T) {
	n := newTestNode(t, "s3cret")
	resp, hdr := n.callWithHeader(t, "getBlockHeight", nil, nil)
	if resp.Error == nil || resp.Error.Code != CodeUnauthorized {
		t.Errorf("no token: got %+v want CodeUnauthorized", resp.Error)
	}
	if hdr.Get(headerRequestID) == "" {
		t.Error("request id not generated")
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer s3cret")
	h.Set(headerRequestID, "trace-1")
	resp, hdr = n.callWithHeader(t, "getBlockHeight", nil, h)
	if resp.Error != nil {
		t.Fatalf("with token: %v", resp.Error.Message)
	}
	if hdr.Get(headerRequestID) != "trace-1" {
		t.Errorf("request id: got %q want trace-1", hdr.Get(headerRequestID))
	}
}

func TestMarketReadsBeforeCreate(t *testing.T) {
	n := newTestNode(t, "")
	for _, method := range []string{"getMarket", "getCollectibleUnitValue", "getCollectibleUrl"} {
		resp := n.call(t, method, nil)
		if resp.Error == nil || resp.Error.Code != CodeNotFound {
			t.Errorf("%s: got %+v want CodeNotFound", method, resp.Error)
		}
	}
}

func TestSendTxValidation(t *testing.T) {
	n := newTestNode(t, "")
	chainID := n.cfg.Genesis.ChainID

	wrongChain, _ := n.alice.ToggleSeason("other-chain", 0, 0)
	if resp := n.call(t, "sendTx", wrongChain); resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("cross-chain tx: got %+v", resp.Error)
	}

	unknown, _ := n.alice.NewTx(chainID, core.TxType("mint_everything"), 0, 0, struct{}{})
	if resp := n.call(t, "sendTx", unknown); resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("unknown type: got %+v", resp.Error)
	}

	pay, _ := n.alice.Pay(chainID, n.admin.PubKey(), 1, 0, 0)
	n.send(t, pay)
	if resp := n.call(t, "sendTx", pay); resp.Error == nil || resp.Error.Code != CodeRejected {
		t.Errorf("duplicate: got %+v want CodeRejected", resp.Error)
	}
	resp := n.call(t, "getMempoolSize", nil)
	if resp.Result != float64(1) {
		t.Errorf("mempool size: got %v want 1", resp.Result)
	}
}

func TestMarketFlowOverRPC(t *testing.T) {
	n := newTestNode(t, "")
	chainID := n.cfg.Genesis.ChainID

	create, _ := n.admin.CreateMarket(chainID, core.MarketCreatePayload{
		Collectible: &core.IssueCollectiblePayload{Name: "Athlete NFT", TotalSupply: 1000, URL: "ipfs://athlete"},
	}, 0, 0)
	createID := n.send(t, create)
	optIn, _ := n.alice.OptIn(chainID, 0, 0)
	n.send(t, optIn)
	toggle, _ := n.admin.ToggleSeason(chainID, 1, 0)
	n.send(t, toggle)
	n.produce(t)

	var receipt core.Receipt
	decode(t, n.call(t, "getReceipt", map[string]string{"tx_id": createID}).Result, &receipt)
	collID, _ := receipt.Result["collectible_id"].(string)
	if !receipt.Success || collID == "" {
		t.Fatalf("create receipt: %+v", receipt)
	}

	var price struct {
		UnitValue uint64 `json:"unit_value"`
		Display   string `json:"display"`
	}
	decode(t, n.call(t, "getCollectibleUnitValue", nil).Result, &price)
	if price.UnitValue != market.DefaultUnitValue || price.Display != "1" {
		t.Errorf("unit value: %+v", price)
	}

	buy, _ := n.alice.Purchase(chainID, market.CustodyAddress, collID, 1_002_000, 1, 0)
	buyID := n.send(t, buy)
	// a second purchase paying half the price fails on its own
	cheap, _ := n.alice.Purchase(chainID, market.CustodyAddress, collID, 500_000, 4, 0)
	cheapID := n.send(t, cheap)
	n.produce(t)

	decode(t, n.call(t, "getReceipt", map[string]string{"tx_id": buyID}).Result, &receipt)
	if !receipt.Success || receipt.Result["collectible_balance"] != float64(1) {
		t.Errorf("purchase receipt: %+v", receipt)
	}
	var failed core.Receipt
	decode(t, n.call(t, "getReceipt", map[string]string{"tx_id": cheapID}).Result, &failed)
	if failed.Success || failed.Error == "" {
		t.Errorf("underpaid purchase receipt: %+v", failed)
	}

	var holding core.Holding
	decode(t, n.call(t, "getHolding", map[string]string{"collectible_id": collID, "address": n.alice.PubKey()}).Result, &holding)
	if holding.Amount != 1 || !holding.Frozen {
		t.Errorf("holding: %+v", holding)
	}

	var owned []string
	decode(t, n.call(t, "getCollectiblesByOwner", map[string]string{"owner": n.alice.PubKey()}).Result, &owned)
	if len(owned) != 1 || owned[0] != collID {
		t.Errorf("owned: %v", owned)
	}

	var bal struct {
		Balance uint64 `json:"balance"`
		Display string `json:"balance_display"`
	}
	decode(t, n.call(t, "getBalance", map[string]string{"address": market.CustodyAddress}).Result, &bal)
	if bal.Balance != 1_002_000 || bal.Display != "1.002" {
		t.Errorf("custody balance: %+v", bal)
	}

	var acct core.MarketAccount
	decode(t, n.call(t, "getMarketAccount", map[string]string{"address": n.alice.PubKey()}).Result, &acct)
	if acct.Purchases != 1 {
		t.Errorf("market account: %+v", acct)
	}

	resp := n.call(t, "getCollectibleUrl", nil)
	if resp.Result.(map[string]any)["url"] != "ipfs://athlete" {
		t.Errorf("url: %v", resp.Result)
	}
	if resp := n.call(t, "getCollectible", map[string]string{"id": "nope"}); resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("unknown collectible: %+v", resp.Error)
	}
}
