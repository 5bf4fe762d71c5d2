package slots

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Field describes one declared storage field. Width is the number of
// consecutive sequential slots it occupies; an unnamed field is a reserved gap
// held open for fields a later version may introduce.
type Field struct {
	Name  string
	Width uint64
}

// Gap returns an anonymous field reserving n sequential slots for future use.
func Gap(n uint64) Field {
	return Field{Width: n}
}

// Layout is the ordered list of storage fields a contract version declares.
// It is the static ground truth layout checks run against; the store itself
// performs no collision detection at runtime.
type Layout struct {
	Contract string
	Version  uint64
	Fields   []Field
}

// Size returns the number of sequential slots the layout occupies.
func (l Layout) Size() uint64 {
	var n uint64
	for _, f := range l.Fields {
		n += f.Width
	}
	return n
}

// SlotOf resolves a named field to its storage slot.
func (l Layout) SlotOf(name string) (common.Hash, bool) {
	var off uint64
	for _, f := range l.Fields {
		if f.Name == name {
			return Sequential(off), true
		}
		off += f.Width
	}
	return common.Hash{}, false
}

// MustSlot is SlotOf for fields the contract itself declares; a miss is a
// programming error in the contract's method table.
func (l Layout) MustSlot(name string) common.Hash {
	slot, ok := l.SlotOf(name)
	if !ok {
		panic(fmt.Sprintf("layout %s@%d: no field %q", l.Contract, l.Version, name))
	}
	return slot
}

// offsets maps every occupied slot offset to the name of the field occupying
// it, skipping gaps.
func (l Layout) offsets() map[uint64]string {
	m := make(map[uint64]string)
	var off uint64
	for _, f := range l.Fields {
		if f.Name != "" {
			for i := uint64(0); i < f.Width; i++ {
				m[off+i] = f.Name
			}
		}
		off += f.Width
	}
	return m
}

// Extends verifies the append-only upgrade rule: every named field of prev
// keeps its offset and width in l, and no field new in l lands on a slot a
// named field of prev occupied. Fields introduced by l may consume slots prev
// held open as gaps.
func (l Layout) Extends(prev Layout) error {
	prevOff := prev.offsets()
	nextOff := l.offsets()
	for off, name := range prevOff {
		got, ok := nextOff[off]
		if !ok {
			return fmt.Errorf("layout %s@%d: field %q removed from slot %d", l.Contract, l.Version, name, off)
		}
		if got != name {
			return fmt.Errorf("layout %s@%d: slot %d reassigned from %q to %q", l.Contract, l.Version, off, name, got)
		}
	}
	for off, name := range nextOff {
		if prevName, taken := prevOff[off]; taken && prevName != name {
			return fmt.Errorf("layout %s@%d: new field %q overlaps %q at slot %d", l.Contract, l.Version, name, prevName, off)
		}
	}
	if l.Size() < prev.Size() {
		return fmt.Errorf("layout %s@%d: shrinks from %d to %d slots", l.Contract, l.Version, prev.Size(), l.Size())
	}
	return nil
}

// CheckDisjoint verifies no reserved control slot falls inside the sequential
// range this layout occupies. Violations are a deploy-time defect; at runtime
// they surface only as silent state aliasing.
func (l Layout) CheckDisjoint(reserved ...common.Hash) error {
	size := l.Size()
	for _, r := range reserved {
		v := new(uint256.Int).SetBytes(r.Bytes())
		if v.IsUint64() && v.Uint64() < size {
			return fmt.Errorf("layout %s@%d: reserved slot %s collides with sequential slot %d", l.Contract, l.Version, r.Hex(), v.Uint64())
		}
	}
	return nil
}
