package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"usvprotocol/storage"
)

// Manager persists protocol records in a key-value database. Values are RLP
// encoded and keys are hashed with keccak256 so every namespace shares one
// flat keyspace.
//
// Manager is not safe for concurrent writes; the engine serialises access.
type Manager struct {
	db    storage.Database
	batch storage.Batch
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Batch returns a manager whose writes are buffered in a storage batch, plus
// the function that writes the batch out.
func (m *Manager) Batch() (*Manager, func() error) {
	batch := m.db.NewBatch()
	return &Manager{db: m.db, batch: batch}, batch.Write
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if m.batch != nil {
		m.batch.Put(kvKey(key), encoded)
		return nil
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.batch != nil {
		m.batch.Delete(kvKey(key))
		return nil
	}
	return m.db.Delete(kvKey(key))
}
