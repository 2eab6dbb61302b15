package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// KeyPrefix constants.
const (
	// DataBlock is the prefix for block bodies keyed by block hash.
	DataBlock KeyPrefix = 0x01
	// IXHeightToHash is the prefix for the height -> block hash index.
	IXHeightToHash KeyPrefix = 0x80
	// SYSCurrentBlock stores the current tip (height and hash).
	SYSCurrentBlock KeyPrefix = 0xc0
	// SYSVersion stores the storage scheme version.
	SYSVersion KeyPrefix = 0xf0
)

// Storage backend types.
const (
	// LevelDB represents a LevelDB storage backend.
	LevelDB = "leveldb"
	// BoltDB represents a BoltDB storage backend.
	BoltDB = "boltdb"
	// InMemoryDB represents an in-memory storage backend.
	InMemoryDB = "inmemory"
)

// ErrKeyNotFound is an error returned by Store implementations
// when a certain key is not found.
var ErrKeyNotFound = errors.New("key not found")

// KeyPrefix is a constant byte added as a prefix for each key
// stored.
type KeyPrefix uint8

// Store is the underlying KV backend for the blockchain data, it's
// not intended to be used directly, you wrap it with some additional
// layer like the Blockchain.
type Store interface {
	Get([]byte) ([]byte, error)
	Put(k, v []byte) error
	Delete(k []byte) error
	// Seek calls f for all the key-value pairs that share the given
	// prefix, in ascending key order. Seeking stops when f returns false.
	Seek(prefix []byte, f func(k, v []byte) bool)
	Close() error
}

// DBConfiguration describes configuration for the chain database.
type DBConfiguration struct {
	Type           string         `yaml:"Type"`
	LevelDBOptions LevelDBOptions `yaml:"LevelDBOptions"`
	BoltDBOptions  BoltDBOptions  `yaml:"BoltDBOptions"`
}

// NewStore creates a storage with the given configuration.
func NewStore(cfg DBConfiguration) (Store, error) {
	switch cfg.Type {
	case LevelDB:
		return NewLevelDBStore(cfg.LevelDBOptions)
	case BoltDB:
		return NewBoltDBStore(cfg.BoltDBOptions)
	case InMemoryDB:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
}

// AppendPrefix appends the given KeyPrefix to the given byte slice
// producing a storage key.
func AppendPrefix(k KeyPrefix, b []byte) []byte {
	dest := make([]byte, 0, 1+len(b))
	dest = append(dest, byte(k))
	return append(dest, b...)
}

// AppendPrefixInt produces a storage key from the given KeyPrefix and a
// big-endian uint32 (big-endian keeps Seek ordered by number).
func AppendPrefixInt(k KeyPrefix, n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return AppendPrefix(k, b)
}
