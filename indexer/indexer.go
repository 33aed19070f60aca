// Package indexer keeps lookup tables built from committed events: request
// receipts and which accounts hold which collectibles.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/events"
	"github.com/tolelom/freedaplay/storage"
)

const (
	prefixReceipt           = "idx:rcpt:"
	prefixOwnerCollectibles = "idx:owner:coll:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxFailed, idx.onTxFailed)
	emitter.Subscribe(events.EventCollectibleIssued, idx.onCollectibleIssued)
	emitter.Subscribe(events.EventCollectibleTransfer, idx.onCollectibleTransfer)
	return idx
}

// GetReceipt returns the receipt for txID, or core.ErrNotFound.
func (idx *Indexer) GetReceipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// GetCollectiblesByOwner returns the IDs of collectibles owner holds units of.
func (idx *Indexer) GetCollectiblesByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerCollectibles + owner)
}

// ---- event handlers ----

func (idx *Indexer) onTxExecuted(ev events.Event) {
	result, _ := ev.Data["result"].(map[string]any)
	idx.putReceipt(&core.Receipt{
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		Success:     true,
		Result:      result,
	})
}

func (idx *Indexer) onTxFailed(ev events.Event) {
	msg, _ := ev.Data["error"].(string)
	idx.putReceipt(&core.Receipt{
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		Error:       msg,
	})
}

func (idx *Indexer) onCollectibleIssued(ev events.Event) {
	id, _ := ev.Data["collectible_id"].(string)
	reserve, _ := ev.Data["reserve"].(string)
	if id == "" || reserve == "" {
		return
	}
	idx.logErr(idx.addToList(prefixOwnerCollectibles+reserve, id))
}

func (idx *Indexer) onCollectibleTransfer(ev events.Event) {
	id, _ := ev.Data["collectible_id"].(string)
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	if id == "" || from == "" || to == "" {
		return
	}
	idx.logErr(idx.addToList(prefixOwnerCollectibles+to, id))
	if left, ok := asUint(ev.Data["from_balance"]); ok && left == 0 {
		idx.logErr(idx.removeFromList(prefixOwnerCollectibles+from, id))
	}
}

func (idx *Indexer) putReceipt(r *core.Receipt) {
	if r.TxID == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		idx.logErr(err)
		return
	}
	idx.logErr(idx.db.Set([]byte(prefixReceipt+r.TxID), data))
}

func (idx *Indexer) logErr(err error) {
	if err != nil {
		log.Printf("[indexer] %v", err)
	}
}

// asUint accepts the numeric shapes an event value can take in process or
// after a JSON round trip.
func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), n >= 0
	case float64:
		return uint64(n), n >= 0
	}
	return 0, false
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, value) {
		return nil
	}
	return idx.putList(key, append(ids, value))
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	return idx.putList(key, slices.DeleteFunc(ids, func(id string) bool { return id == value }))
}

func (idx *Indexer) putList(key string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
