package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"proxyvm/storage"
)

var (
	ownerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ownerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	slot0 = common.BigToHash(common.Big0)
	slot1 = common.BigToHash(common.Big1)
)

func TestReadDefaultsToZero(t *testing.T) {
	s := NewStore(storage.NewMemDB(), ownerA)
	got, err := s.Read(slot0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (common.Hash{}) {
		t.Fatalf("fresh slot = %s, want zero", got.Hex())
	}
}

func TestWriteVisibleBeforeCommit(t *testing.T) {
	s := NewStore(storage.NewMemDB(), ownerA)
	want := common.BigToHash(common.Big256)
	s.Write(slot0, want)
	got, err := s.Read(slot0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("pending read = %s, want %s", got.Hex(), want.Hex())
	}
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}
}

func TestDiscardDropsWrites(t *testing.T) {
	s := NewStore(storage.NewMemDB(), ownerA)
	s.Write(slot0, common.BigToHash(common.Big1))
	s.Discard()
	got, err := s.Read(slot0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (common.Hash{}) {
		t.Fatalf("after discard slot = %s, want zero", got.Hex())
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", s.Pending())
	}
}

func TestCommitDurableAcrossReopen(t *testing.T) {
	db := storage.NewMemDB()
	s := NewStore(db, ownerA)
	want := common.BigToHash(common.Big32)
	s.Write(slot1, want)
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened := NewStore(db, ownerA)
	got, err := reopened.Read(slot1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("reopened slot = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestStoresAreIsolatedByOwner(t *testing.T) {
	db := storage.NewMemDB()
	a := NewStore(db, ownerA)
	b := NewStore(db, ownerB)

	a.Write(slot0, common.BigToHash(common.Big256))
	if err := a.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := b.Read(slot0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (common.Hash{}) {
		t.Fatalf("other owner's slot = %s, want zero", got.Hex())
	}
}
