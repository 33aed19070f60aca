// Package storage persists ledger state and blocks in a key-value store.
package storage

// DB is the generic key-value store interface.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Batch collects writes that Write applies atomically.
type Batch interface {
	Set(key, value []byte)
	Write() error
}

// Iterator walks key-value pairs under a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}
