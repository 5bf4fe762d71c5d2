package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	proxyerrors "proxyvm/core/errors"
	"proxyvm/core/slots"
	"proxyvm/core/state"
	"proxyvm/observability/metrics"
	"proxyvm/storage"
)

var (
	instancesKey = []byte("world/instances")
	nonceKey     = []byte("world/nonce")
)

// World hosts contract instances and sequences every external call against
// them. Execution is single-threaded per call: each invocation runs to
// completion, committing all of its storage effects or none, before the next
// is admitted.
type World struct {
	mu        sync.Mutex
	db        storage.Database
	log       *slog.Logger
	registry  map[string]Contract
	instances map[common.Address]*Instance
	nonce     uint64
	feed      *eventFeed
}

// Option configures a World at construction.
type Option func(*World)

// WithLogger routes the world's structured logs to the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWorld creates a world over the given database. Register code versions
// with RegisterCode, then Load to rebind any instances persisted by a
// previous run.
func NewWorld(db storage.Database, opts ...Option) *World {
	w := &World{
		db:        db,
		log:       slog.Default(),
		registry:  make(map[string]Contract),
		instances: make(map[common.Address]*Instance),
		feed:      newEventFeed(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RegisterCode makes a contract version deployable. It runs the static layout
// checks: the declared fields must stay clear of the reserved control slots,
// and if the previous version of the same contract is registered the new
// layout must extend it append-only.
func (w *World) RegisterCode(c Contract) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := c.Manifest()
	if err := m.Layout.CheckDisjoint(slots.Controls()...); err != nil {
		return err
	}
	if m.Version > 1 {
		prevRef := fmt.Sprintf("%s@%d", m.Name, m.Version-1)
		if prev, ok := w.registry[prevRef]; ok {
			if err := m.Layout.Extends(prev.Manifest().Layout); err != nil {
				return err
			}
		}
	}
	w.registry[m.Ref()] = c
	return nil
}

// Code resolves a registered code reference.
func (w *World) Code(ref string) (Contract, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.registry[ref]
	return c, ok
}

// Load rebinds instances persisted by a previous run. Every persisted code
// reference must already be registered.
func (w *World) Load() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if raw, err := w.db.Get(nonceKey); err == nil {
		w.nonce = binary.BigEndian.Uint64(raw)
	} else if err != storage.ErrNotFound {
		return fmt.Errorf("load nonce: %w", err)
	}
	raw, err := w.db.Get(instancesKey)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}
	var records []instanceRecord
	if err := rlp.DecodeBytes(raw, &records); err != nil {
		return fmt.Errorf("decode instances: %w", err)
	}
	for _, rec := range records {
		inst := &Instance{
			Address: rec.Address,
			Store:   state.NewStore(w.db, rec.Address),
		}
		if rec.IsProxy {
			inst.Proxy = &ProxyRecord{
				ImplSlot:  rec.ImplSlot,
				AdminSlot: slots.Admin,
				Policy:    policyFor(rec.SelfAuth),
			}
		} else {
			code, ok := w.registry[rec.CodeRef]
			if !ok {
				return fmt.Errorf("%w: %q referenced by %s", proxyerrors.ErrUnknownCode, rec.CodeRef, rec.Address.Hex())
			}
			inst.Code = code
		}
		w.instances[rec.Address] = inst
	}
	return nil
}

func (w *World) persistLocked() error {
	records := make([]instanceRecord, 0, len(w.instances))
	for _, inst := range w.instances {
		rec := instanceRecord{Address: inst.Address, IsProxy: inst.IsProxy()}
		if inst.IsProxy() {
			rec.ImplSlot = inst.Proxy.ImplSlot
			_, rec.SelfAuth = inst.Proxy.Policy.(SelfAuthorizedPolicy)
		} else if inst.Code != nil {
			rec.CodeRef = inst.Code.Manifest().Ref()
		}
		records = append(records, rec)
	}
	// Stable order keeps the persisted registry byte-identical across saves.
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Address.Bytes(), records[j].Address.Bytes()) < 0
	})
	enc, err := rlp.EncodeToBytes(records)
	if err != nil {
		return fmt.Errorf("encode instances: %w", err)
	}
	if err := w.db.Put(instancesKey, enc); err != nil {
		return fmt.Errorf("persist instances: %w", err)
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], w.nonce)
	return w.db.Put(nonceKey, nonce[:])
}

func (w *World) nextAddressLocked(deployer common.Address) common.Address {
	w.nonce++
	return ethcrypto.CreateAddress(deployer, w.nonce)
}

// DeployContract creates a standalone implementation instance from a
// registered code reference. With lock set, the instance's initialization
// guard is moved to the terminal Locked state as part of construction, which
// is the correct posture for any instance meant to be used only as a
// delegation target.
func (w *World) DeployContract(deployer common.Address, ref string, lock bool) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	code, ok := w.registry[ref]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %q", proxyerrors.ErrUnknownCode, ref)
	}
	addr := w.nextAddressLocked(deployer)
	inst := &Instance{
		Address: addr,
		Code:    code,
		Store:   state.NewStore(w.db, addr),
	}
	if lock {
		lockInitializers(inst.Store)
	}
	if err := inst.Store.Commit(); err != nil {
		return common.Address{}, err
	}
	w.instances[addr] = inst
	if err := w.persistLocked(); err != nil {
		return common.Address{}, err
	}
	metrics.Deploys.WithLabelValues("implementation").Inc()
	w.log.Info("deployed implementation",
		"address", addr.Hex(), "code", ref, "locked", lock)
	w.feed.publish(Event{Type: EventDeploy, Instance: addr, CodeRef: ref, OK: true})
	return addr, nil
}

type proxyConfig struct {
	implSlot common.Hash
	selfAuth bool
}

// ProxyOption configures one proxy deployment.
type ProxyOption func(*proxyConfig)

// WithImplementationSlot overrides the reserved slot the proxy keeps its
// implementation pointer in. The default is the hash-derived control slot;
// overriding it with a low sequential slot recreates the storage-collision
// defect the vulnerable demos exercise.
func WithImplementationSlot(slot common.Hash) ProxyOption {
	return func(cfg *proxyConfig) {
		cfg.implSlot = slot
	}
}

// WithSelfAuthorizedUpgrades delegates upgrade authorization to the current
// implementation's authorizeUpgrade method instead of the external admin
// record.
func WithSelfAuthorizedUpgrades() ProxyOption {
	return func(cfg *proxyConfig) {
		cfg.selfAuth = true
	}
}

// DeployProxy creates a proxy over an existing implementation instance. The
// deployer is recorded as admin. A non-nil init performs one delegated call
// against the implementation as part of construction; if it fails the whole
// deployment is aborted and no instance is created.
func (w *World) DeployProxy(deployer, impl common.Address, init *CallData, opts ...ProxyOption) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cfg := proxyConfig{implSlot: slots.Implementation}
	for _, opt := range opts {
		opt(&cfg)
	}
	target, err := w.implementationLocked(impl)
	if err != nil {
		return common.Address{}, err
	}
	if err := target.Code.Manifest().Layout.CheckDisjoint(cfg.implSlot, slots.Admin, slots.Initialized); err != nil {
		// The world hosts misconfigured proxies; the static check is for
		// deployers that ask. The vulnerable demos rely on this.
		w.log.Warn("proxy control slots collide with implementation layout", "error", err)
	}
	addr := w.nextAddressLocked(deployer)
	inst := &Instance{
		Address: addr,
		Proxy: &ProxyRecord{
			ImplSlot:  cfg.implSlot,
			AdminSlot: slots.Admin,
			Policy:    policyFor(cfg.selfAuth),
		},
		Store: state.NewStore(w.db, addr),
	}
	inst.Store.Write(cfg.implSlot, AddressWord(impl))
	inst.Store.Write(slots.Admin, AddressWord(deployer))
	if init != nil {
		if _, err := w.executeLocked(deployer, inst, *init); err != nil {
			inst.Store.Discard()
			return common.Address{}, fmt.Errorf("constructor call %s: %w", init.Method, err)
		}
	}
	if err := inst.Store.Commit(); err != nil {
		return common.Address{}, err
	}
	w.instances[addr] = inst
	if err := w.persistLocked(); err != nil {
		return common.Address{}, err
	}
	metrics.Deploys.WithLabelValues("proxy").Inc()
	w.log.Info("deployed proxy",
		"address", addr.Hex(), "implementation", impl.Hex(), "admin", deployer.Hex())
	w.feed.publish(Event{Type: EventDeploy, Instance: addr, Implementation: impl, OK: true})
	return addr, nil
}

// Call routes one external invocation to an instance. Calls against a proxy
// are forwarded to its current implementation under delegated execution: the
// implementation's code runs with every storage read and write applied to the
// proxy's own store. The call commits all of its writes or none.
func (w *World) Call(caller, target common.Address, method string, args []common.Hash) ([]common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	started := time.Now()
	inst, ok := w.instances[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", proxyerrors.ErrUnknownInstance, target.Hex())
	}
	out, err := w.executeLocked(caller, inst, CallData{Method: method, Args: args})
	outcome := "ok"
	if err != nil {
		inst.Store.Discard()
		outcome = "revert"
	} else if commitErr := inst.Store.Commit(); commitErr != nil {
		err = commitErr
		outcome = "revert"
	}
	metrics.Calls.WithLabelValues(method, outcome).Inc()
	metrics.CallSeconds.Observe(time.Since(started).Seconds())
	ev := Event{Type: EventCall, Instance: target, Method: method, OK: err == nil}
	if err != nil {
		ev.Reason = err.Error()
	}
	w.feed.publish(ev)
	return out, err
}

// implementationLocked resolves an address that must carry executable code.
func (w *World) implementationLocked(addr common.Address) (*Instance, error) {
	inst, ok := w.instances[addr]
	if !ok || inst.Code == nil {
		return nil, fmt.Errorf("%w: %s", proxyerrors.ErrInvalidImplementation, addr.Hex())
	}
	return inst, nil
}

// executeLocked runs one call frame. For a proxy the implementation is
// resolved from the reserved slot in the proxy's own store and its code runs
// against that same store; the implementation instance's own store is never
// touched.
func (w *World) executeLocked(caller common.Address, inst *Instance, data CallData) ([]common.Hash, error) {
	code := inst.Code
	if inst.IsProxy() {
		implWord, err := inst.Store.Read(inst.Proxy.ImplSlot)
		if err != nil {
			return nil, err
		}
		target, err := w.implementationLocked(WordAddress(implWord))
		if err != nil {
			return nil, err
		}
		code = target.Code
	}
	if code == nil {
		return nil, fmt.Errorf("%w: %s", proxyerrors.ErrInvalidImplementation, inst.Address.Hex())
	}
	m, ok := code.Method(data.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", proxyerrors.ErrUnknownMethod, data.Method, code.Manifest().Ref())
	}
	env := &Env{World: w, Caller: caller, Self: inst.Address, Store: inst.Store}
	return m(env, data.Args)
}

// ProxyInfo is the read-only view of a proxy's control data.
type ProxyInfo struct {
	Implementation common.Address
	Admin          common.Address
	CodeRef        string
	CodeHash       common.Hash
	Epoch          uint64
	Locked         bool
}

// Introspect reads a proxy's control slots for tooling. It is never gated by
// the initialization guard and reports whatever the slots currently decode
// to, meaningful or not; after a storage collision that is the evidence.
func (w *World) Introspect(proxy common.Address) (ProxyInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inst, ok := w.instances[proxy]
	if !ok {
		return ProxyInfo{}, fmt.Errorf("%w: %s", proxyerrors.ErrUnknownInstance, proxy.Hex())
	}
	if !inst.IsProxy() {
		return ProxyInfo{}, fmt.Errorf("%w: %s is not a proxy", proxyerrors.ErrUnknownInstance, proxy.Hex())
	}
	implWord, err := inst.Store.Read(inst.Proxy.ImplSlot)
	if err != nil {
		return ProxyInfo{}, err
	}
	adminWord, err := inst.Store.Read(inst.Proxy.AdminSlot)
	if err != nil {
		return ProxyInfo{}, err
	}
	st, err := readInitState(inst.Store)
	if err != nil {
		return ProxyInfo{}, err
	}
	info := ProxyInfo{
		Implementation: WordAddress(implWord),
		Admin:          WordAddress(adminWord),
		Epoch:          st.Epoch,
		Locked:         st.Locked,
	}
	if impl, ok := w.instances[info.Implementation]; ok && impl.Code != nil {
		m := impl.Code.Manifest()
		info.CodeRef = m.Ref()
		info.CodeHash = m.CodeHash()
	}
	return info, nil
}
