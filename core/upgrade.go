package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	proxyerrors "proxyvm/core/errors"
	"proxyvm/observability/metrics"
)

// UpgradePolicy decides who may repoint a proxy's implementation. The
// minimal correct policy checks the caller against the recorded admin; the
// self-authorizing variant asks the current implementation itself, so both
// external-admin and UUPS-style architectures fit.
type UpgradePolicy interface {
	Authorize(w *World, proxy *Instance, caller common.Address) error
}

// AdminPolicy authorizes only the address recorded in the proxy's reserved
// admin slot.
type AdminPolicy struct{}

func (AdminPolicy) Authorize(w *World, proxy *Instance, caller common.Address) error {
	adminWord, err := proxy.Store.Read(proxy.Proxy.AdminSlot)
	if err != nil {
		return err
	}
	if WordAddress(adminWord) != caller {
		return fmt.Errorf("%w: %s", proxyerrors.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// SelfAuthorizedPolicy delegates the decision to the current implementation's
// authorizeUpgrade method, executed against the proxy's store. A missing
// method or a revert denies the upgrade.
type SelfAuthorizedPolicy struct{}

func (SelfAuthorizedPolicy) Authorize(w *World, proxy *Instance, caller common.Address) error {
	_, err := w.executeLocked(caller, proxy, CallData{
		Method: "authorizeUpgrade",
		Args:   []common.Hash{AddressWord(caller)},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", proxyerrors.ErrUnauthorized, err)
	}
	return nil
}

func policyFor(selfAuth bool) UpgradePolicy {
	if selfAuth {
		return SelfAuthorizedPolicy{}
	}
	return AdminPolicy{}
}

// Upgrade atomically repoints a proxy to a new implementation. The caller is
// validated by the proxy's upgrade policy and the target must carry
// executable code. A non-nil post call is delegated against the new
// implementation in the same atomic step, typically a reinitialize; if it
// fails nothing is written and the old implementation stays active.
func (w *World) Upgrade(caller, proxy, newImpl common.Address, post *CallData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inst, ok := w.instances[proxy]
	if !ok || !inst.IsProxy() {
		return fmt.Errorf("%w: %s", proxyerrors.ErrUnknownInstance, proxy.Hex())
	}
	fail := func(err error) error {
		inst.Store.Discard()
		metrics.Upgrades.WithLabelValues("revert").Inc()
		w.feed.publish(Event{Type: EventUpgrade, Instance: proxy, Implementation: newImpl, OK: false, Reason: err.Error()})
		return err
	}
	if err := inst.Proxy.Policy.Authorize(w, inst, caller); err != nil {
		return fail(err)
	}
	target, err := w.implementationLocked(newImpl)
	if err != nil {
		return fail(err)
	}
	inst.Store.Write(inst.Proxy.ImplSlot, AddressWord(newImpl))
	if post != nil {
		if _, err := w.executeLocked(caller, inst, *post); err != nil {
			return fail(fmt.Errorf("post-upgrade call %s: %w", post.Method, err))
		}
	}
	if err := inst.Store.Commit(); err != nil {
		return fail(err)
	}
	metrics.Upgrades.WithLabelValues("ok").Inc()
	w.log.Info("upgraded proxy",
		"proxy", proxy.Hex(), "implementation", newImpl.Hex(), "code", target.Code.Manifest().Ref())
	w.feed.publish(Event{Type: EventUpgrade, Instance: proxy, Implementation: newImpl, CodeRef: target.Code.Manifest().Ref(), OK: true})
	return nil
}
