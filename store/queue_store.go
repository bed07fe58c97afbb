package store

import (
	"encoding/binary"
	"fmt"

	"chainq/block"
	"chainq/db"
	"chainq/jsonx"
	"chainq/logx"
)

// QueueStore is the durable collaborator of the block queue: a keyed map from
// block number to block record plus a set of block hashes, committed together
// one batch per mutating call.
type QueueStore interface {
	// Load streams every persisted block record into fn.
	Load(fn func(*block.Block) error) error

	// LoadHashes streams every persisted hash-set marker into fn.
	LoadHashes(fn func(block.Hash) error) error

	// Batch starts a new mutation set. Write on the returned batch is the
	// durable commit.
	Batch() QueueBatch

	// Clear removes every persisted block record and hash marker in a
	// single commit.
	Clear() error

	// Close releases the underlying provider.
	Close() error
}

// QueueBatch accumulates block-table and hash-set mutations that become
// durable together on Write.
type QueueBatch interface {
	PutBlock(b *block.Block) error
	DeleteBlock(number uint64, hash block.Hash)
	Write() error
}

// GenericQueueStore is a backend-agnostic QueueStore over a DatabaseProvider.
type GenericQueueStore struct {
	provider db.IterableProvider
}

// NewQueueStore creates a queue store with the given provider.
func NewQueueStore(provider db.IterableProvider) (QueueStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericQueueStore{provider: provider}, nil
}

// numberToBlockKey converts a block number to its storage key
func numberToBlockKey(number uint64) []byte {
	key := make([]byte, len(PrefixQueueBlock)+8)
	copy(key, PrefixQueueBlock)
	binary.BigEndian.PutUint64(key[len(PrefixQueueBlock):], number)
	return key
}

// hashToSetKey converts a block hash to its set-marker key
func hashToSetKey(hash block.Hash) []byte {
	key := make([]byte, len(PrefixQueueHash)+block.HashSize)
	copy(key, PrefixQueueHash)
	copy(key[len(PrefixQueueHash):], hash[:])
	return key
}

// Load streams all persisted blocks, in key order, into fn.
func (s *GenericQueueStore) Load(fn func(*block.Block) error) error {
	var cbErr error
	err := s.provider.IteratePrefix([]byte(PrefixQueueBlock), func(key, value []byte) bool {
		var blk block.Block
		if err := jsonx.Unmarshal(value, &blk); err != nil {
			cbErr = fmt.Errorf("failed to unmarshal block record: %w", err)
			return false
		}
		if err := fn(&blk); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to iterate block records: %w", err)
	}
	return cbErr
}

// LoadHashes streams the durable identifier set, one hash per marker key.
func (s *GenericQueueStore) LoadHashes(fn func(block.Hash) error) error {
	var cbErr error
	err := s.provider.IteratePrefix([]byte(PrefixQueueHash), func(key, _ []byte) bool {
		h, err := block.HashFromBytes(key[len(PrefixQueueHash):])
		if err != nil {
			cbErr = fmt.Errorf("failed to decode hash marker: %w", err)
			return false
		}
		if err := fn(h); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to iterate hash markers: %w", err)
	}
	return cbErr
}

// Batch starts a new mutation set
func (s *GenericQueueStore) Batch() QueueBatch {
	return &genericQueueBatch{batch: s.provider.Batch()}
}

// Clear removes all queue state in one commit
func (s *GenericQueueStore) Clear() error {
	batch := s.provider.Batch()
	for _, prefix := range []string{PrefixQueueBlock, PrefixQueueHash} {
		err := s.provider.IteratePrefix([]byte(prefix), func(key, _ []byte) bool {
			// keys are only valid during the callback
			batch.Delete(append([]byte(nil), key...))
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to collect keys for clear: %w", err)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

// Close closes the underlying provider
func (s *GenericQueueStore) Close() error {
	if err := s.provider.Close(); err != nil {
		logx.Error("QUEUE_STORE", "Failed to close provider: ", err)
		return err
	}
	return nil
}

type genericQueueBatch struct {
	batch db.DatabaseBatch
}

func (b *genericQueueBatch) PutBlock(blk *block.Block) error {
	value, err := jsonx.Marshal(blk)
	if err != nil {
		return fmt.Errorf("failed to marshal block record: %w", err)
	}
	b.batch.Put(numberToBlockKey(blk.Number), value)
	// non-empty marker value, zero-length values are indistinguishable from
	// missing keys on some backends
	b.batch.Put(hashToSetKey(blk.Hash), []byte{0x1})
	return nil
}

func (b *genericQueueBatch) DeleteBlock(number uint64, hash block.Hash) {
	b.batch.Delete(numberToBlockKey(number))
	b.batch.Delete(hashToSetKey(hash))
}

func (b *genericQueueBatch) Write() error {
	return b.batch.Write()
}
