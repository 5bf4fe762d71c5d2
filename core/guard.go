package core

import (
	"github.com/ethereum/go-ethereum/common"

	proxyerrors "proxyvm/core/errors"
	"proxyvm/core/slots"
)

// lockedEpoch marks an instance whose initializers are permanently disabled.
// It is the maximum word so no epoch increment can ever reach it.
var lockedEpoch = common.MaxHash

// InitState is the lifecycle position of one instance's initialization guard.
type InitState struct {
	Epoch  uint64
	Locked bool
}

func (s InitState) Initialized() bool {
	return s.Locked || s.Epoch > 0
}

func readInitState(store Storage) (InitState, error) {
	word, err := store.Read(slots.Initialized)
	if err != nil {
		return InitState{}, err
	}
	if word == lockedEpoch {
		return InitState{Locked: true}, nil
	}
	return InitState{Epoch: WordValue(word).Uint64()}, nil
}

// BeginInitialize performs the one-shot first initialization transition on
// the executing store, moving the epoch from 0 to 1. Contract initialize
// methods call it before touching any field.
func BeginInitialize(env *Env) error {
	st, err := readInitState(env.Store)
	if err != nil {
		return err
	}
	if st.Locked {
		return proxyerrors.ErrInitializerDisabled
	}
	if st.Epoch > 0 {
		return proxyerrors.ErrAlreadyInitialized
	}
	env.Store.Write(slots.Initialized, Word(1))
	return nil
}

// BeginReinitialize performs the versioned re-initialization transition. The
// caller must supply exactly the next epoch; anything else fails with no
// state change. Used for post-upgrade setup of newly introduced fields.
func BeginReinitialize(env *Env, epoch uint64) error {
	st, err := readInitState(env.Store)
	if err != nil {
		return err
	}
	if st.Locked {
		return proxyerrors.ErrInitializerDisabled
	}
	if epoch != st.Epoch+1 {
		return proxyerrors.ErrInvalidReinitializationEpoch
	}
	env.Store.Write(slots.Initialized, Word(epoch))
	return nil
}

// lockInitializers moves an uninitialized store into the terminal Locked
// state. Applied at construction time to instances meant to be called only
// through a proxy; skipping it is the takeover vulnerability this model
// exists to demonstrate.
func lockInitializers(store Storage) {
	store.Write(slots.Initialized, lockedEpoch)
}
