package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/swap"
)

func TestCommunicationRegistryInsertGetUpdate(t *testing.T) {
	r := NewCommunicationRegistry()
	id := swap.NewSwapId()

	if _, _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrNotFound before insert")
	}

	r.Insert(id, swap.ProposedCommunication(swap.Request{}))
	comm, state, err := r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if comm.Phase != swap.Proposed {
		t.Errorf("phase = %s, want %s", comm.Phase, swap.Proposed)
	}

	if err := r.UpdateCommunication(id, comm.Accept(swap.Response{})); err != nil {
		t.Fatal(err)
	}
	state.EthereumIdentitySent = true
	if err := r.UpdateState(id, state); err != nil {
		t.Fatal(err)
	}

	comm, state, err = r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if comm.Phase != swap.Accepted {
		t.Errorf("phase = %s, want %s", comm.Phase, swap.Accepted)
	}
	if !state.EthereumIdentitySent {
		t.Error("expected updated state to persist")
	}
}

func TestLedgerRegistryInsertGetUpdate(t *testing.T) {
	r := NewLedgerRegistry(Alpha)
	id := swap.NewSwapId()

	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrNotFound before insert")
	}

	r.Insert(id, ledgerstate.Fresh())
	got, err := r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != ledgerstate.NotDeployed {
		t.Errorf("phase = %s, want %s", got.Phase, ledgerstate.NotDeployed)
	}

	if err := r.Update(id, ledgerstate.State{Phase: ledgerstate.Funded}); err != nil {
		t.Fatal(err)
	}
	got, err = r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != ledgerstate.Funded {
		t.Errorf("phase = %s, want %s", got.Phase, ledgerstate.Funded)
	}

	if err := r.Update(swap.NewSwapId(), ledgerstate.Fresh()); !errors.Is(err, ErrNotFound) {
		t.Error("updating an unknown swap id must fail")
	}
}

func TestFailedSwapsMarkIsIdempotent(t *testing.T) {
	f := NewFailedSwaps()
	id := swap.NewSwapId()
	if f.IsFailed(id) {
		t.Fatal("fresh set should not report failure")
	}
	f.Mark(id)
	f.Mark(id)
	if !f.IsFailed(id) {
		t.Error("expected id to be marked failed")
	}
}

func TestRegistryConcurrentAccessIsSafe(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	ids := make([]swap.SwapId, 50)
	for i := range ids {
		ids[i] = swap.NewSwapId()
		reg.Alpha.Insert(ids[i], ledgerstate.Fresh())
	}

	for _, id := range ids {
		wg.Add(2)
		go func(id swap.SwapId) {
			defer wg.Done()
			_ = reg.Alpha.Update(id, ledgerstate.State{Phase: ledgerstate.Funded})
		}(id)
		go func(id swap.SwapId) {
			defer wg.Done()
			_, _ = reg.Alpha.Get(id)
		}(id)
	}
	wg.Wait()
}
