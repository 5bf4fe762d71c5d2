package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"proxyvm/storage"
)

var storePrefix = []byte("store/")

// Store is one instance's persistent slot space: a mapping from 32-byte slot
// to 32-byte word, exclusively owned by that instance for its lifetime. Reads
// of never-written slots yield the zero word. The store attaches no types and
// detects no collisions; layout discipline lives in core/slots.
//
// Writes are buffered until Commit so an external call either lands all of
// its effects or none of them. Store is not safe for concurrent use; the
// world serializes calls per instance.
type Store struct {
	db    storage.Database
	owner common.Address
	dirty map[common.Hash]common.Hash
}

// NewStore opens the slot space owned by the given instance address.
func NewStore(db storage.Database, owner common.Address) *Store {
	return &Store{db: db, owner: owner}
}

// Owner returns the instance address whose state this store holds.
func (s *Store) Owner() common.Address {
	return s.owner
}

func (s *Store) key(slot common.Hash) []byte {
	buf := make([]byte, 0, len(storePrefix)+common.AddressLength+common.HashLength)
	buf = append(buf, storePrefix...)
	buf = append(buf, s.owner.Bytes()...)
	return append(buf, slot.Bytes()...)
}

// Read returns the word at slot, preferring uncommitted writes of the current
// call. Slots never written read as zero.
func (s *Store) Read(slot common.Hash) (common.Hash, error) {
	if v, ok := s.dirty[slot]; ok {
		return v, nil
	}
	raw, err := s.db.Get(s.key(slot))
	switch {
	case err == nil:
		return common.BytesToHash(raw), nil
	case err == storage.ErrNotFound:
		return common.Hash{}, nil
	default:
		return common.Hash{}, fmt.Errorf("read slot %s of %s: %w", slot.Hex(), s.owner.Hex(), err)
	}
}

// Write buffers a word for slot. It becomes durable on Commit and vanishes on
// Discard.
func (s *Store) Write(slot, value common.Hash) {
	if s.dirty == nil {
		s.dirty = make(map[common.Hash]common.Hash)
	}
	s.dirty[slot] = value
}

// Pending reports how many slots the current call has written so far.
func (s *Store) Pending() int {
	return len(s.dirty)
}

// Commit flushes every buffered write to the backing database.
func (s *Store) Commit() error {
	for slot, value := range s.dirty {
		if err := s.db.Put(s.key(slot), value.Bytes()); err != nil {
			return fmt.Errorf("commit slot %s of %s: %w", slot.Hex(), s.owner.Hex(), err)
		}
	}
	s.dirty = nil
	return nil
}

// Discard drops every buffered write, restoring the store to its last
// committed state.
func (s *Store) Discard() {
	s.dirty = nil
}
