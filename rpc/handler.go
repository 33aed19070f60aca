package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/indexer"
	"github.com/tolelom/freedaplay/vm"
	"github.com/tolelom/freedaplay/vm/modules/market"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler. state is only read; pass a view over
// committed data, not the StateDB the sequencer executes against.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getBalance":
		return h.getBalance(req)
	case "getMarket":
		return h.getMarket(req)
	case "getCollectibleUnitValue":
		return h.getCollectibleUnitValue(req)
	case "getCollectibleUrl":
		return h.getCollectibleURL(req)
	case "getCollectible":
		return h.getCollectible(req)
	case "getHolding":
		return h.getHolding(req)
	case "getMarketAccount":
		return h.getMarketAccount(req)
	case "getCollectiblesByOwner":
		return h.getCollectiblesByOwner(req)
	case "getReceipt":
		return h.getReceipt(req)
	case "sendTx":
		return h.sendTx(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

var errMissingParams = errors.New("params required")

// bind decodes params and checks that every named field is non-empty.
func bind(req Request, v any, required ...*string) error {
	if len(req.Params) == 0 {
		return errMissingParams
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	for _, f := range required {
		if *f == "" {
			return errMissingParams
		}
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		block = h.bc.Tip()
	}
	if err != nil {
		return failure(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := bind(req, &params, &params.Address); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address":         acc.Address,
		"balance":         acc.Balance,
		"balance_display": core.FormatAmount(acc.Balance),
		"nonce":           acc.Nonce,
	})
}

func (h *Handler) getMarket(req Request) Response {
	m, err := h.state.GetMarket()
	if errors.Is(err, core.ErrNotFound) {
		err = market.ErrMarketNotCreated
	}
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"market":             m,
		"unit_value_display": core.FormatAmount(m.CollectibleUnitValue),
	})
}

func (h *Handler) getCollectibleUnitValue(req Request) Response {
	v, err := market.CollectibleUnitValue(h.state)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"unit_value": v, "display": core.FormatAmount(v)})
}

func (h *Handler) getCollectibleURL(req Request) Response {
	url, err := market.CollectibleURL(h.state)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"url": url})
}

func (h *Handler) getCollectible(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := bind(req, &params, &params.ID); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	c, err := h.state.GetCollectible(params.ID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, c)
}

func (h *Handler) getHolding(req Request) Response {
	var params struct {
		CollectibleID string `json:"collectible_id"`
		Address       string `json:"address"`
	}
	if err := bind(req, &params, &params.CollectibleID, &params.Address); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "collectible_id and address are required")
	}
	hd, err := h.state.GetHolding(params.CollectibleID, params.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, hd)
}

func (h *Handler) getMarketAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := bind(req, &params, &params.Address); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acct, err := h.state.GetMarketAccount(params.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, acct)
}

func (h *Handler) getCollectiblesByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := bind(req, &params, &params.Owner); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetCollectiblesByOwner(params.Owner)
	if err != nil {
		return failure(req.ID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := bind(req, &params, &params.TxID); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	r, err := h.indexer.GetReceipt(params.TxID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()

	members, err := tx.Members()
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	for _, m := range members {
		if !vm.Registered(m.Type) {
			return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tx type %q", m.Type))
		}
	}
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
