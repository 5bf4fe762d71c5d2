package slots

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestReservedDeterministic(t *testing.T) {
	a := Reserved("proxyvm.proxy.implementation")
	b := Reserved("proxyvm.proxy.implementation")
	if a != b {
		t.Fatalf("same namespace produced different slots: %s vs %s", a.Hex(), b.Hex())
	}
	if a != Implementation {
		t.Fatalf("cached constant diverges from derivation: %s vs %s", Implementation.Hex(), a.Hex())
	}
}

func TestReservedDistinctNamespaces(t *testing.T) {
	seen := map[string]string{}
	for _, ns := range []string{
		"proxyvm.proxy.implementation",
		"proxyvm.proxy.admin",
		"proxyvm.proxy.initialized",
		"proxyvm.proxy.beacon",
	} {
		slot := Reserved(ns).Hex()
		if prev, dup := seen[slot]; dup {
			t.Fatalf("namespaces %q and %q share slot %s", prev, ns, slot)
		}
		seen[slot] = ns
	}
}

func TestReservedOffsetByOne(t *testing.T) {
	// The derivation subtracts one from the hash, so the slot must differ from
	// the raw keccak image of the namespace.
	slot := new(uint256.Int).SetBytes(Reserved("proxyvm.proxy.admin").Bytes())
	slot.AddUint64(slot, 1)
	raw := new(uint256.Int).SetBytes(Reserved("proxyvm.proxy.admin").Bytes())
	if slot.Eq(raw) {
		t.Fatal("offset not applied")
	}
}

func TestSequentialOrder(t *testing.T) {
	for i := uint64(0); i < 8; i++ {
		got := new(uint256.Int).SetBytes(Sequential(i).Bytes())
		if !got.IsUint64() || got.Uint64() != i {
			t.Fatalf("sequential slot %d encodes as %s", i, got)
		}
	}
}

// Control slots must stay numerically clear of any sequential range an
// implementation could plausibly occupy.
func TestControlSlotsDisjointFromSequential(t *testing.T) {
	const fields = 4096
	for i := uint64(0); i < fields; i++ {
		seq := Sequential(i)
		for _, ctrl := range Controls() {
			if seq == ctrl {
				t.Fatalf("control slot %s equals sequential slot %d", ctrl.Hex(), i)
			}
		}
	}
	// The same property via the static layout check.
	layout := Layout{Contract: "wide", Version: 1, Fields: []Field{{Name: "blob", Width: fields}}}
	if err := layout.CheckDisjoint(Controls()...); err != nil {
		t.Fatalf("disjointness check failed: %v", err)
	}
}
