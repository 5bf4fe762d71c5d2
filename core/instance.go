package core

import (
	"github.com/ethereum/go-ethereum/common"

	"proxyvm/core/state"
)

// Instance is one deployed contract: an address, its exclusively owned slot
// store, and either executable code (an implementation) or a proxy record.
//
// An implementation instance has two identities. Through a proxy only its
// code runs, against the proxy's store. Directly it is an ordinary callable
// instance with its own pristine store, which is why construction locks the
// initializers of delegation-only deployments.
type Instance struct {
	Address common.Address
	Code    Contract
	Proxy   *ProxyRecord
	Store   *state.Store
}

func (i *Instance) IsProxy() bool {
	return i.Proxy != nil
}

// ProxyRecord is the static shape of a proxy's control data. The pointers
// themselves live in the proxy's store at the recorded slots; only the
// Upgrade operation writes the implementation slot.
type ProxyRecord struct {
	ImplSlot  common.Hash
	AdminSlot common.Hash
	Policy    UpgradePolicy
}

// instanceRecord is the persisted form of an instance, RLP-encoded into the
// world's registry so a daemon restart can rebind code from the code
// registry.
type instanceRecord struct {
	Address  common.Address
	CodeRef  string
	IsProxy  bool
	ImplSlot common.Hash
	SelfAuth bool
}
