// Package registry holds the process-wide state every other component
// reads and writes by swap id: communication progress, each side's ledger
// state, and which swaps have failed outright.
//
// Each map gets its own lock (design note: per-registry locks rather than
// one global lock, so a read of alpha state never waits on a write to
// beta state). Lock hold time is constant: a single map read or write,
// never spanning a suspension point.
package registry

import (
	"errors"
	"sync"

	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/swap"
)

// ErrNotFound is returned when a lookup key has no entry.
var ErrNotFound = errors.New("registry: swap not found")

// ErrAlreadyFailed names the condition of a swap that FailedSwaps
// contains. No method in this package returns it: the communication and
// ledger registries do not consult FailedSwaps, so Get and Update keep
// working for a failed swap.
var ErrAlreadyFailed = errors.New("registry: swap already marked failed")

// CommunicationRegistry holds one swap.Communication plus its
// swap.State flags per swap id.
type CommunicationRegistry struct {
	mu      sync.RWMutex
	entries map[swap.SwapId]communicationEntry
}

type communicationEntry struct {
	communication swap.Communication
	state         swap.State
}

// NewCommunicationRegistry returns an empty registry.
func NewCommunicationRegistry() *CommunicationRegistry {
	return &CommunicationRegistry{entries: make(map[swap.SwapId]communicationEntry)}
}

// Insert records the initial communication state for a swap, called once
// at swap creation.
func (r *CommunicationRegistry) Insert(id swap.SwapId, c swap.Communication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = communicationEntry{communication: c}
}

// Get returns the current communication and flag state for id.
func (r *CommunicationRegistry) Get(id swap.SwapId) (swap.Communication, swap.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return swap.Communication{}, swap.State{}, ErrNotFound
	}
	return e.communication, e.state, nil
}

// UpdateCommunication replaces the Communication value for id.
func (r *CommunicationRegistry) UpdateCommunication(id swap.SwapId, c swap.Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.communication = c
	r.entries[id] = e
	return nil
}

// UpdateState replaces the flag state for id.
func (r *CommunicationRegistry) UpdateState(id swap.SwapId, s swap.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.state = s
	r.entries[id] = e
	return nil
}

// LedgerSide distinguishes which of the two per-swap ledger registries an
// operation targets.
type LedgerSide string

const (
	Alpha LedgerSide = "alpha"
	Beta  LedgerSide = "beta"
)

// LedgerRegistry holds one ledgerstate.State per swap id, for one side
// (alpha or beta) of every swap in flight.
type LedgerRegistry struct {
	mu      sync.RWMutex
	entries map[swap.SwapId]ledgerstate.State
	side    LedgerSide
}

// NewLedgerRegistry returns an empty registry for the given side, used
// purely for diagnostics (e.g. logging which side a lock belongs to).
func NewLedgerRegistry(side LedgerSide) *LedgerRegistry {
	return &LedgerRegistry{entries: make(map[swap.SwapId]ledgerstate.State), side: side}
}

// Side reports which of alpha/beta this registry tracks.
func (r *LedgerRegistry) Side() LedgerSide { return r.side }

// Insert records the initial (NotDeployed) ledger state for a swap.
func (r *LedgerRegistry) Insert(id swap.SwapId, s ledgerstate.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = s
}

// Get returns the current ledger state for id.
func (r *LedgerRegistry) Get(id swap.SwapId) (ledgerstate.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	if !ok {
		return ledgerstate.State{}, ErrNotFound
	}
	return s, nil
}

// Update replaces the ledger state for id, called by a watcher after each
// successfully observed event.
func (r *LedgerRegistry) Update(id swap.SwapId, s ledgerstate.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	r.entries[id] = s
	return nil
}

// FailedSwaps is the process-wide set of swaps that have aborted due to a
// protocol or fatal error. Membership is recorded only here: the other
// registries and action.Plan do not consult this set, so they keep
// accepting updates and planning actions for a failed swap.
type FailedSwaps struct {
	mu  sync.RWMutex
	set map[swap.SwapId]struct{}
}

// NewFailedSwaps returns an empty failed-swap set.
func NewFailedSwaps() *FailedSwaps {
	return &FailedSwaps{set: make(map[swap.SwapId]struct{})}
}

// Mark records id as failed. Marking an already-failed id is a no-op.
func (f *FailedSwaps) Mark(id swap.SwapId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[id] = struct{}{}
}

// IsFailed reports whether id has been marked failed.
func (f *FailedSwaps) IsFailed(id swap.SwapId) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[id]
	return ok
}

// Registry bundles the three process-wide maps and the failed-swap set
// behind a single init at startup, matching the "single init, retained
// until process exit" lifecycle described for swap state.
type Registry struct {
	Communication *CommunicationRegistry
	Alpha         *LedgerRegistry
	Beta          *LedgerRegistry
	Failed        *FailedSwaps
}

// New constructs an empty Registry, called once at node startup.
func New() *Registry {
	return &Registry{
		Communication: NewCommunicationRegistry(),
		Alpha:         NewLedgerRegistry(Alpha),
		Beta:          NewLedgerRegistry(Beta),
		Failed:        NewFailedSwaps(),
	}
}

// LedgerFor returns the per-swap ledger registry for side.
func (r *Registry) LedgerFor(side LedgerSide) *LedgerRegistry {
	if side == Alpha {
		return r.Alpha
	}
	return r.Beta
}

// Fail marks id as failed in the failed-swap set. coordinator.RunSwap
// calls it when either ledger watcher returns an error; the negotiator
// does not call it.
func (r *Registry) Fail(id swap.SwapId) {
	r.Failed.Mark(id)
}
