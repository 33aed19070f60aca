// Package sequencer produces blocks for a single-authority chain. The
// sequencer drains the mempool in arrival order, which fixes the total order
// every market request is evaluated in.
package sequencer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tolelom/freedaplay/config"
	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
	"github.com/tolelom/freedaplay/events"
	"github.com/tolelom/freedaplay/vm"
)

const defaultMaxBlockTxs = 500

// Sequencer is the block producer.
type Sequencer struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
}

// New creates a Sequencer signing with privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
	}
}

// ProduceBlock executes pending requests and commits them as the next
// block. Requests that fail are left out of the block and dropped from the
// mempool; their failure still reaches subscribers as a tx_failed event.
// Returns (nil, nil) when there was nothing to include.
func (s *Sequencer) ProduceBlock() (*core.Block, error) {
	limit := s.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	pending := s.mempool.Pending(limit)
	if len(pending) == 0 {
		return nil, nil
	}

	prevHash, height := config.GenesisHash, int64(1)
	if tip := s.bc.Tip(); tip != nil {
		prevHash, height = tip.Hash, tip.Header.Height+1
	}
	block := core.NewBlock(height, prevHash, s.pubKey.Hex(), nil)

	blockSnap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	processed := make([]string, 0, len(pending))
	for _, tx := range pending {
		processed = append(processed, tx.ID)
		if err := s.exec.ExecuteTx(block, tx); err != nil {
			log.Printf("[sequencer] drop tx %s (%s): %v", tx.ID, tx.Type, err)
			continue
		}
		block.Transactions = append(block.Transactions, tx)
	}

	if len(block.Transactions) > 0 {
		block.Header.StateRoot = s.state.ComputeRoot()
		block.Seal(s.privKey)
		if err := s.bc.AddBlock(block); err != nil {
			s.abandon(blockSnap)
			return nil, fmt.Errorf("add block: %w", err)
		}
		if err := s.state.Commit(); err != nil {
			log.Fatalf("[sequencer] FATAL: block %d stored but state commit failed: %v", height, err)
		}
	} else {
		// every request failed; nothing to store, but the failures are news
		if err := s.state.RevertToSnapshot(blockSnap); err != nil {
			s.exec.Discard()
			return nil, fmt.Errorf("revert empty block: %w", err)
		}
		block = nil
	}

	s.exec.Flush()
	s.mempool.Remove(processed)

	if block == nil {
		return nil, nil
	}
	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
		})
	}
	log.Printf("[sequencer] block %d committed with %d txs", block.Header.Height, len(block.Transactions))
	return block, nil
}

func (s *Sequencer) abandon(snap int) {
	if err := s.state.RevertToSnapshot(snap); err != nil {
		log.Printf("[sequencer] revert abandoned block: %v", err)
	}
	s.exec.Discard()
}

// Run produces a block every interval until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ProduceBlock(); err != nil {
				log.Printf("[sequencer] produce block error: %v", err)
			}
		}
	}
}
