package config

import (
	"fmt"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
)

// GenesisHash is the previous hash of block #0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock credits the Alloc balances, commits them and returns
// block #0 sealed by the sequencer key.
func CreateGenesisBlock(cfg *Config, state core.State, seqPriv crypto.PrivateKey) (*core.Block, error) {
	for addr, balance := range cfg.Genesis.Alloc {
		if _, err := crypto.PubKeyFromHex(addr); err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
		if err := state.SetAccount(&core.Account{Address: addr, Balance: balance}); err != nil {
			return nil, err
		}
	}

	block := core.NewBlock(0, GenesisHash, seqPriv.Public().Hex(), nil)
	block.Header.StateRoot = state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	block.Seal(seqPriv)
	return block, nil
}
