package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxTxAge       = int64(time.Hour)
	maxTxFuture    = int64(5 * time.Minute)
)

var (
	ErrMempoolFull = errors.New("mempool full")
	ErrDuplicateTx = errors.New("tx already in pool")
)

// Mempool holds pending requests in arrival order. The sequencer drains it in
// that order, which is what gives every request its place in the total order.
type Mempool struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction)}
}

// Add verifies tx (every member, for a group) and queues it.
func (m *Mempool) Add(tx *Transaction) error {
	if err := verifyRequest(tx); err != nil {
		return err
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("transaction timestamp too far in the future")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicateTx
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

func verifyRequest(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	if tx.Type != TxGroup {
		return nil
	}
	members, err := tx.Members()
	if err != nil {
		return err
	}
	for i, member := range members {
		if err := member.Verify(); err != nil {
			return fmt.Errorf("group member %d signature: %w", i, err)
		}
	}
	return nil
}

// Get returns a pending transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions in arrival order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, n)
	for _, id := range m.ord {
		if len(out) >= n {
			break
		}
		if tx, ok := m.txs[id]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// Remove drops the given IDs once they are included in a block or rejected.
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		gone[id] = true
	}
	kept := m.ord[:0]
	for _, id := range m.ord {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	m.ord = kept
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
