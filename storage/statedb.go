package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/crypto"
)

// statePrefixes lists every prefix ComputeRoot scans. Declare prefixes only
// through registerPrefix so none is left out of the root.
var statePrefixes []string

func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var (
	prefixAccount       = registerPrefix("acct:")
	prefixCollectible   = registerPrefix("coll:")
	prefixHolding       = registerPrefix("hold:")
	prefixMarket        = registerPrefix("mkt:")
	prefixMarketAccount = registerPrefix("mkta:")
)

var keyMarket = prefixMarket + "global"

// StateDB implements core.State over a DB. Writes go to an in-memory buffer
// that snapshots can roll back; nothing reaches the DB until Commit.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	snapshots []map[string][]byte
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

func (s *StateDB) get(key string) ([]byte, error) {
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) load(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) store(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.dirty[key] = data
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.load(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.store(prefixAccount+acc.Address, acc)
}

// ---- Collectible ----

func (s *StateDB) GetCollectible(id string) (*core.Collectible, error) {
	var c core.Collectible
	if err := s.load(prefixCollectible+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCollectible(c *core.Collectible) error {
	return s.store(prefixCollectible+c.ID, c)
}

// ---- Holding ----

func holdingKey(collectibleID, address string) string {
	return prefixHolding + collectibleID + ":" + address
}

func (s *StateDB) GetHolding(collectibleID, address string) (*core.Holding, error) {
	var h core.Holding
	err := s.load(holdingKey(collectibleID, address), &h)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Holding{CollectibleID: collectibleID, Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *StateDB) SetHolding(h *core.Holding) error {
	return s.store(holdingKey(h.CollectibleID, h.Address), h)
}

// ---- Market ----

func (s *StateDB) GetMarket() (*core.Market, error) {
	var m core.Market
	if err := s.load(keyMarket, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMarket(m *core.Market) error {
	return s.store(keyMarket, m)
}

func (s *StateDB) GetMarketAccount(address string) (*core.MarketAccount, error) {
	var a core.MarketAccount
	if err := s.load(prefixMarketAccount+address, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetMarketAccount(a *core.MarketAccount) error {
	return s.store(prefixMarketAccount+a.Address, a)
}

// ---- Snapshot / Rollback / Commit ----

func copyBuffer(dirty map[string][]byte) map[string][]byte {
	cp := make(map[string][]byte, len(dirty))
	for k, v := range dirty {
		cp[k] = bytes.Clone(v)
	}
	return cp
}

// Snapshot saves the write buffer and returns an ID for RevertToSnapshot.
func (s *StateDB) Snapshot() (int, error) {
	s.snapshots = append(s.snapshots, copyBuffer(s.dirty))
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the buffer saved under id and drops it together
// with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.dirty = copyBuffer(s.snapshots[id])
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot hashes the merged view of persisted state and the write
// buffer, sorted by key with length-prefixed entries.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit writes the buffer to the DB in one batch, then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.snapshots = nil
	return nil
}
