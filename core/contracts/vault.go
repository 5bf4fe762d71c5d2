package contracts

import (
	"github.com/ethereum/go-ethereum/common"

	"proxyvm/core"
	"proxyvm/core/slots"
)

// VaultLayout is the smallest possible layout: a single value at slot 0.
// The collision demo points a misconfigured proxy's implementation slot at
// slot 0 and then lets this contract's ordinary setter clobber it.
func VaultLayout() slots.Layout {
	return slots.Layout{Contract: "vault", Version: 1, Fields: []slots.Field{
		{Name: "value", Width: 1},
	}}
}

// NewVault builds the single-field contract used by the storage-collision
// demo.
func NewVault() core.Contract {
	layout := VaultLayout()
	valueSlot := layout.MustSlot("value")
	return newTable("vault", 1, layout, map[string]core.Method{
		"setValue": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			if err := wantArgs("setValue", args, 1); err != nil {
				return nil, err
			}
			env.Store.Write(valueSlot, args[0])
			return nil, nil
		},
		"getValue": func(env *core.Env, args []common.Hash) ([]common.Hash, error) {
			word, err := env.Store.Read(valueSlot)
			if err != nil {
				return nil, err
			}
			return []common.Hash{word}, nil
		},
	})
}
