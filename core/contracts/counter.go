package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"proxyvm/core"
	proxyerrors "proxyvm/core/errors"
	"proxyvm/core/slots"
)

// table is the shared shape of the reference contracts: a manifest plus a
// selector-indexed method table.
type table struct {
	manifest core.Manifest
	methods  map[string]core.Method
}

func (t *table) Manifest() core.Manifest {
	return t.manifest
}

func (t *table) Method(selector string) (core.Method, bool) {
	m, ok := t.methods[selector]
	return m, ok
}

func newTable(name string, version uint64, layout slots.Layout, methods map[string]core.Method) *table {
	selectors := make([]string, 0, len(methods))
	for sel := range methods {
		selectors = append(selectors, sel)
	}
	return &table{
		manifest: core.Manifest{Name: name, Version: version, Layout: layout, Selectors: selectors},
		methods:  methods,
	}
}

// CounterV1Layout declares the first version's fields: owner at slot 0,
// value at slot 1, then a gap held open for later versions.
func CounterV1Layout() slots.Layout {
	return slots.Layout{Contract: "counter", Version: 1, Fields: []slots.Field{
		{Name: "owner", Width: 1},
		{Name: "value", Width: 1},
		slots.Gap(48),
	}}
}

// CounterV2Layout appends newVar into the gap CounterV1 reserved; everything
// V1 declared keeps its slot.
func CounterV2Layout() slots.Layout {
	return slots.Layout{Contract: "counter", Version: 2, Fields: []slots.Field{
		{Name: "owner", Width: 1},
		{Name: "value", Width: 1},
		{Name: "newVar", Width: 1},
		slots.Gap(47),
	}}
}

func wantArgs(method string, args []common.Hash, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d args, got %d", method, n, len(args))
	}
	return nil
}

func readUint(env *core.Env, slot common.Hash) (*uint256.Int, error) {
	word, err := env.Store.Read(slot)
	if err != nil {
		return nil, err
	}
	return core.WordValue(word), nil
}

// NewCounterV1 builds the first counter implementation. initialize records
// the owner (defaulting to the caller) and an optional starting value; the
// business methods are unrestricted, mirroring the usual demo contract.
func NewCounterV1() core.Contract {
	layout := CounterV1Layout()
	ownerSlot := layout.MustSlot("owner")
	valueSlot := layout.MustSlot("value")
	return newTable("counter", 1, layout, map[string]core.Method{
		"initialize": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			if err := core.BeginInitialize(env); err != nil {
				return nil, err
			}
			owner := core.AddressWord(env.Caller)
			if len(args) > 0 {
				owner = args[0]
			}
			env.Store.Write(ownerSlot, owner)
			if len(args) > 1 {
				env.Store.Write(valueSlot, args[1])
			}
			return nil, nil
		},
		"setValue": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			if err := wantArgs("setValue", args, 1); err != nil {
				return nil, err
			}
			env.Store.Write(valueSlot, args[0])
			return nil, nil
		},
		"increment": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			v, err := readUint(env, valueSlot)
			if err != nil {
				return nil, err
			}
			v.AddUint64(v, 1)
			env.Store.Write(valueSlot, common.Hash(v.Bytes32()))
			return nil, nil
		},
		"getValue": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			word, err := env.Store.Read(valueSlot)
			if err != nil {
				return nil, err
			}
			return []common.Hash{word}, nil
		},
		"getOwner": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			word, err := env.Store.Read(ownerSlot)
			if err != nil {
				return nil, err
			}
			return []common.Hash{word}, nil
		},
	})
}

// NewCounterV2 extends V1 with newVar, a reinitializer for the new field, a
// combined getTotal and a self-authorizing upgrade hook gated on the owner
// field.
func NewCounterV2() core.Contract {
	layout := CounterV2Layout()
	ownerSlot := layout.MustSlot("owner")
	valueSlot := layout.MustSlot("value")
	newVarSlot := layout.MustSlot("newVar")

	v1 := NewCounterV1().(*table)
	methods := make(map[string]core.Method, len(v1.methods)+4)
	for sel, m := range v1.methods {
		methods[sel] = m
	}
	methods["reinitialize"] = func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
		if err := wantArgs("reinitialize", args, 2); err != nil {
			return nil, err
		}
		if err := core.BeginReinitialize(env, core.WordValue(args[0]).Uint64()); err != nil {
			return nil, err
		}
		env.Store.Write(newVarSlot, args[1])
		return nil, nil
	}
	methods["setNewVar"] = func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
		if err := wantArgs("setNewVar", args, 1); err != nil {
			return nil, err
		}
		env.Store.Write(newVarSlot, args[0])
		return nil, nil
	}
	methods["getTotal"] = func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
		value, err := readUint(env, valueSlot)
		if err != nil {
			return nil, err
		}
		newVar, err := readUint(env, newVarSlot)
		if err != nil {
			return nil, err
		}
		value.Add(value, newVar)
		return []common.Hash{common.Hash(value.Bytes32())}, nil
	}
	methods["authorizeUpgrade"] = func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
		if err := wantArgs("authorizeUpgrade", args, 1); err != nil {
			return nil, err
		}
		owner, err := env.Store.Read(ownerSlot)
		if err != nil {
			return nil, err
		}
		if core.WordAddress(owner) != core.WordAddress(args[0]) {
			return nil, proxyerrors.ErrUnauthorized
		}
		return nil, nil
	}
	return newTable("counter", 2, layout, methods)
}
