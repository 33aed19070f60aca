package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/freedaplay/crypto"
)

// BlockHeader is the hashed and signed part of a block.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"`
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"`
	Sequencer string `json:"sequencer"` // pubkey hex of the producing authority
}

// Block is an ordered batch of committed requests.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash hashes the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Seal recomputes TxRoot from the current transaction list, then hashes
// and signs the header.
func (b *Block) Seal(priv crypto.PrivateKey) {
	b.Header.TxRoot = ComputeTxRoot(b.Transactions)
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the header hash and signature against pub.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if b.ComputeHash() != b.Hash {
		return ErrBlockHashMismatch
	}
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot hashes the concatenated transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, tx.ID...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsealed block at height.
func NewBlock(height int64, prevHash, sequencer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Sequencer: sequencer,
		},
		Transactions: txs,
	}
}
