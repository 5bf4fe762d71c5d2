package slots

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Sequential returns the storage slot of the i-th declared field. Ordinary
// business fields are assigned in declaration order starting at slot 0, so
// field order is append-only across contract versions.
func Sequential(i uint64) common.Hash {
	return common.Hash(uint256.NewInt(i).Bytes32())
}

// Reserved derives the storage slot for a control namespace as
// keccak256(namespace) - 1. A 256-bit hash minus a small constant cannot
// numerically land inside the low range sequential allocation assigns from,
// which is what keeps control data out of the way of any implementation's own
// fields.
func Reserved(namespace string) common.Hash {
	h := new(uint256.Int).SetBytes(ethcrypto.Keccak256([]byte(namespace)))
	h.SubUint64(h, 1)
	return common.Hash(h.Bytes32())
}

// Control slots shared by every proxy, computed once at startup.
var (
	Implementation = Reserved("proxyvm.proxy.implementation")
	Admin          = Reserved("proxyvm.proxy.admin")
	Initialized    = Reserved("proxyvm.proxy.initialized")
)

// Controls lists the reserved control slots a layout must stay clear of.
func Controls() []common.Hash {
	return []common.Hash{Implementation, Admin, Initialized}
}
