package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	proxyerrors "proxyvm/core/errors"
	"proxyvm/core/slots"
)

// kvContractV2 extends kvContract with a second field plus a versioned
// reinitializer, an always-failing probe, and an owner-gated upgrade hook.
func kvContractV2() *testContract {
	layout := slots.Layout{Contract: "kv", Version: 2, Fields: []slots.Field{
		{Name: "value", Width: 1},
		{Name: "extra", Width: 1},
	}}
	valueSlot := layout.MustSlot("value")
	extraSlot := layout.MustSlot("extra")
	base := kvContract(2)
	base.manifest = Manifest{Name: "kv", Version: 2, Layout: layout,
		Selectors: []string{"initialize", "setValue", "getValue", "reinitialize", "getExtra", "explode", "authorizeUpgrade"}}
	base.methods["reinitialize"] = func(env *Env, args []common.Hash) ([]common.Hash, error) {
		if err := BeginReinitialize(env, WordValue(args[0]).Uint64()); err != nil {
			return nil, err
		}
		env.Store.Write(extraSlot, args[1])
		return nil, nil
	}
	base.methods["getExtra"] = func(env *Env, args []common.Hash) ([]common.Hash, error) {
		word, err := env.Store.Read(extraSlot)
		if err != nil {
			return nil, err
		}
		return []common.Hash{word}, nil
	}
	base.methods["explode"] = func(env *Env, args []common.Hash) ([]common.Hash, error) {
		env.Store.Write(valueSlot, Word(666))
		return nil, errors.New("post-upgrade setup failed")
	}
	base.methods["authorizeUpgrade"] = func(env *Env, args []common.Hash) ([]common.Hash, error) {
		if WordAddress(args[0]) != alice {
			return nil, proxyerrors.ErrUnauthorized
		}
		return nil, nil
	}
	return base
}

func newUpgradeWorld(t *testing.T) (*World, common.Address, common.Address, common.Address) {
	t.Helper()
	w, _ := newTestWorld(t)
	if err := w.RegisterCode(kvContractV2()); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	implV1, proxy := deployPair(t, w)
	implV2, err := w.DeployContract(deployer, "kv@2", true)
	if err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	return w, implV1, implV2, proxy
}

func TestUpgradeSwitchesImplementation(t *testing.T) {
	w, _, implV2, proxy := newUpgradeWorld(t)
	if _, err := w.Call(alice, proxy, "setValue", []common.Hash{Word(5)}); err != nil {
		t.Fatalf("setValue: %v", err)
	}
	post := &CallData{Method: "reinitialize", Args: []common.Hash{Word(2), Word(10)}}
	if err := w.Upgrade(deployer, proxy, implV2, post); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	info, err := w.Introspect(proxy)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if info.Implementation != implV2 {
		t.Fatalf("implementation = %s, want %s", info.Implementation.Hex(), implV2.Hex())
	}
	if info.Epoch != 2 {
		t.Fatalf("epoch = %d, want 2", info.Epoch)
	}
	out, err := w.Call(alice, proxy, "getExtra", nil)
	if err != nil {
		t.Fatalf("getExtra: %v", err)
	}
	if got := WordValue(out[0]).Uint64(); got != 10 {
		t.Fatalf("extra = %d, want 10", got)
	}
	// Old state survives the upgrade.
	out, err = w.Call(alice, proxy, "getValue", nil)
	if err != nil {
		t.Fatalf("getValue: %v", err)
	}
	if got := WordValue(out[0]).Uint64(); got != 5 {
		t.Fatalf("value after upgrade = %d, want 5", got)
	}
}

// A failing post-upgrade call rolls the pointer update back: all-or-nothing.
func TestUpgradeAtomicOnFailedPostCall(t *testing.T) {
	w, implV1, implV2, proxy := newUpgradeWorld(t)
	err := w.Upgrade(deployer, proxy, implV2, &CallData{Method: "explode"})
	if err == nil {
		t.Fatal("expected upgrade failure")
	}
	info, introErr := w.Introspect(proxy)
	if introErr != nil {
		t.Fatalf("introspect: %v", introErr)
	}
	if info.Implementation != implV1 {
		t.Fatalf("pointer moved to %s despite failed post call, want %s", info.Implementation.Hex(), implV1.Hex())
	}
	out, err := w.Call(alice, proxy, "getValue", nil)
	if err != nil {
		t.Fatalf("getValue: %v", err)
	}
	if out[0] != (common.Hash{}) {
		t.Fatalf("failed upgrade leaked a write: value = %s", out[0].Hex())
	}
}

func TestUpgradeRejectsNonAdmin(t *testing.T) {
	w, _, implV2, proxy := newUpgradeWorld(t)
	err := w.Upgrade(bob, proxy, implV2, nil)
	if !errors.Is(err, proxyerrors.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestUpgradeRejectsCodelessTarget(t *testing.T) {
	w, _, _, proxy := newUpgradeWorld(t)
	err := w.Upgrade(deployer, proxy, bob, nil)
	if !errors.Is(err, proxyerrors.ErrInvalidImplementation) {
		t.Fatalf("got %v, want ErrInvalidImplementation", err)
	}
}

func TestUpgradeRejectsNonProxyTarget(t *testing.T) {
	w, implV1, implV2, _ := newUpgradeWorld(t)
	err := w.Upgrade(deployer, implV1, implV2, nil)
	if !errors.Is(err, proxyerrors.ErrUnknownInstance) {
		t.Fatalf("got %v, want ErrUnknownInstance", err)
	}
}

// Self-authorizing proxies consult the implementation's own authorizeUpgrade
// instead of the admin record.
func TestSelfAuthorizedUpgradePolicy(t *testing.T) {
	w, _ := newTestWorld(t)
	if err := w.RegisterCode(kvContractV2()); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	implV2, err := w.DeployContract(deployer, "kv@2", true)
	if err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	proxy, err := w.DeployProxy(deployer, implV2, &CallData{Method: "initialize"}, WithSelfAuthorizedUpgrades())
	if err != nil {
		t.Fatalf("deploy proxy: %v", err)
	}
	// The admin record says deployer, but the policy defers to the code,
	// which only accepts alice.
	if err := w.Upgrade(deployer, proxy, implV2, nil); !errors.Is(err, proxyerrors.ErrUnauthorized) {
		t.Fatalf("deployer passed self-authorization: %v", err)
	}
	if err := w.Upgrade(alice, proxy, implV2, nil); err != nil {
		t.Fatalf("alice rejected by self-authorization: %v", err)
	}
}
