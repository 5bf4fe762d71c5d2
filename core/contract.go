package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"proxyvm/core/slots"
)

// Env is the execution environment handed to a contract method. Self and
// Store identify whose persistent state the method mutates; under delegated
// execution they belong to the calling proxy while the code belongs to the
// implementation. The store is a handle, never a copy.
type Env struct {
	World  *World
	Caller common.Address
	Self   common.Address
	Store  Storage
}

// Storage is the slot-space handle a method reads and writes through.
type Storage interface {
	Read(slot common.Hash) (common.Hash, error)
	Write(slot, value common.Hash)
}

// Method executes one contract operation. Arguments and results are 32-byte
// words, encoding unsigned integers and left-padded addresses.
type Method func(env *Env, args []common.Hash) ([]common.Hash, error)

// Contract is executable code: a method table plus the manifest describing
// its storage layout. Code carries no state of its own; state lives in
// whichever store the dispatcher hands it.
type Contract interface {
	Manifest() Manifest
	Method(selector string) (Method, bool)
}

// Manifest identifies a contract version and its declared storage layout.
type Manifest struct {
	Name      string
	Version   uint64
	Layout    slots.Layout
	Selectors []string
}

// Ref is the registry key for this code version, e.g. "counter@2".
func (m Manifest) Ref() string {
	return fmt.Sprintf("%s@%d", m.Name, m.Version)
}

type manifestDigest struct {
	Name      string
	Version   uint64
	Fields    []slots.Field
	Selectors []string
}

// CodeHash derives a stable identifier for the code version from its
// manifest: name, version, field order and method selectors.
func (m Manifest) CodeHash() common.Hash {
	selectors := append([]string(nil), m.Selectors...)
	sort.Strings(selectors)
	enc, err := rlp.EncodeToBytes(manifestDigest{
		Name:      m.Name,
		Version:   m.Version,
		Fields:    m.Layout.Fields,
		Selectors: selectors,
	})
	if err != nil {
		panic(fmt.Sprintf("encode manifest %s: %v", m.Ref(), err))
	}
	return common.Hash(blake3.Sum256(enc))
}

// CallData is one call at the world boundary: a method selector plus word
// arguments.
type CallData struct {
	Method string
	Args   []common.Hash
}

// Word encodes an unsigned integer as a storage word.
func Word(v uint64) common.Hash {
	return common.Hash(uint256.NewInt(v).Bytes32())
}

// WordValue decodes a storage word as an unsigned 256-bit integer.
func WordValue(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(h.Bytes())
}

// AddressWord left-pads an address into a storage word.
func AddressWord(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// WordAddress truncates a storage word to its low 20 bytes as an address.
// Lossy on purpose: a word written by unrelated business logic decodes to
// whatever address its low bytes spell, which is exactly how a slot collision
// manifests.
func WordAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

// ParseWord reads a word from its external string form: 0x-prefixed hex
// (addresses and hashes) or a decimal unsigned integer.
func ParseWord(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, fmt.Errorf("empty word")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw := common.FromHex(s)
		if len(raw) == 0 || len(raw) > common.HashLength {
			return common.Hash{}, fmt.Errorf("hex word %q out of range", s)
		}
		return common.BytesToHash(raw), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("decimal word %q: %w", s, err)
	}
	return common.Hash(v.Bytes32()), nil
}
