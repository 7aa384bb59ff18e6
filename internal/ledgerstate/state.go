// Package ledgerstate implements the per-side HTLC state machine:
// NotDeployed -> {Funded, IncorrectlyFunded} -> {Redeemed, Refunded}.
//
// The original implementation this is ported from panics on an illegal
// transition. Transitions here return ErrInvalidTransition instead, so a
// caller (or a test) can observe the failure rather than crash the
// process.
package ledgerstate

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapcore/internal/htlc"
)

// Phase tags which variant a State currently holds.
type Phase string

const (
	NotDeployed       Phase = "not_deployed"
	Funded            Phase = "funded"
	IncorrectlyFunded Phase = "incorrectly_funded"
	Redeemed          Phase = "redeemed"
	Refunded          Phase = "refunded"
)

// ErrInvalidTransition is returned when a transition method is called on a
// State whose current Phase does not permit it.
var ErrInvalidTransition = errors.New("ledgerstate: invalid transition")

// Location identifies where the HTLC landed on-chain: a deployed contract
// address for account-based chains, or a (txid, vout) outpoint for UTXO
// chains.
type Location struct {
	ContractAddress string // account-based chains
	TxID            string // UTXO chains
	Vout            uint32 // UTXO chains
}

// State is the tagged-variant record for one side of a swap. Only the
// fields relevant to the current Phase are populated; State is immutable
// once constructed — each transition method returns a new State.
type State struct {
	Phase Phase

	Asset           htlc.Asset
	Location        Location
	FundTransaction string

	RedeemTransaction string
	Secret            [32]byte

	RefundTransaction string
}

// Fresh returns a new State in the NotDeployed phase.
func Fresh() State {
	return State{Phase: NotDeployed}
}

// TransitionToFunded moves NotDeployed to Funded or IncorrectlyFunded,
// depending on whether the observed asset matches the agreed one. It is
// the only transition out of NotDeployed.
func (s State) TransitionToFunded(asset htlc.Asset, expected htlc.Asset, location Location, fundTx string) (State, error) {
	if s.Phase != NotDeployed {
		return s, fmt.Errorf("%w: %s -> funded", ErrInvalidTransition, s.Phase)
	}
	phase := Funded
	if !asset.Equal(expected) {
		phase = IncorrectlyFunded
	}
	return State{
		Phase:           phase,
		Asset:           asset,
		Location:        location,
		FundTransaction: fundTx,
	}, nil
}

// TransitionToRedeemed moves Funded to Redeemed. IncorrectlyFunded HTLCs
// are never redeemable — only a refund is legal for them.
func (s State) TransitionToRedeemed(redeemTx string, secret [32]byte) (State, error) {
	if s.Phase != Funded {
		return s, fmt.Errorf("%w: %s -> redeemed", ErrInvalidTransition, s.Phase)
	}
	next := s
	next.Phase = Redeemed
	next.RedeemTransaction = redeemTx
	next.Secret = secret
	return next, nil
}

// TransitionToRefunded moves Funded or IncorrectlyFunded to Refunded.
func (s State) TransitionToRefunded(refundTx string) (State, error) {
	if s.Phase != Funded && s.Phase != IncorrectlyFunded {
		return s, fmt.Errorf("%w: %s -> refunded", ErrInvalidTransition, s.Phase)
	}
	next := s
	next.Phase = Refunded
	next.RefundTransaction = refundTx
	return next, nil
}

// IsTerminal reports whether s accepts no further transitions.
func (s State) IsTerminal() bool {
	return s.Phase == Redeemed || s.Phase == Refunded
}
