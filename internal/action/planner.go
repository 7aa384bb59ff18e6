// Package action implements the pure function that turns a swap's
// communication and ledger state into the set of things a user may
// legally do next.
package action

import (
	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/swap"
)

// Kind enumerates the actions the planner can offer.
type Kind string

const (
	Accept  Kind = "accept"
	Decline Kind = "decline"
	Fund    Kind = "fund"
	Redeem  Kind = "redeem"
	Refund  Kind = "refund"
)

// Side names which ledger an action applies to.
type Side string

const (
	SideAlpha Side = "alpha"
	SideBeta  Side = "beta"
)

// Action is one entry of the planner's output: a kind, and the ledger
// side it targets (empty for Accept/Decline, which target the swap as a
// whole).
type Action struct {
	Kind Kind
	Side Side
}

// Plan is the pure function from (communication, alpha, beta, role) to an
// ordered action list. It never panics: every combination of inputs
// produces a defined, possibly empty, list.
func Plan(comm swap.Communication, alpha, beta ledgerstate.State, role swap.Role) []Action {
	if role == swap.Bob {
		return planBob(comm, alpha, beta)
	}
	return planAlice(comm, alpha, beta)
}

// planAlice implements the rules in the Action Planner section: Alice
// funds alpha first, then may redeem beta once Bob funds it, and may
// refund alpha once it is stuck funded (or incorrectly funded) without a
// counterpart redemption.
func planAlice(comm swap.Communication, alpha, beta ledgerstate.State) []Action {
	if comm.Phase != swap.Accepted {
		return nil
	}

	var actions []Action

	switch alpha.Phase {
	case ledgerstate.NotDeployed:
		actions = append(actions, Action{Kind: Fund, Side: SideAlpha})
	case ledgerstate.Funded, ledgerstate.IncorrectlyFunded:
		actions = append(actions, Action{Kind: Refund, Side: SideAlpha})
	}

	if beta.Phase == ledgerstate.Funded {
		actions = append(actions, Action{Kind: Redeem, Side: SideBeta})
	}

	return actions
}

// planBob mirrors planAlice with alpha and beta swapped, and adds
// Accept/Decline while the swap is still Proposed.
func planBob(comm swap.Communication, alpha, beta ledgerstate.State) []Action {
	if comm.Phase == swap.Proposed {
		return []Action{{Kind: Accept}, {Kind: Decline}}
	}
	if comm.Phase != swap.Accepted {
		return nil
	}

	var actions []Action

	switch beta.Phase {
	case ledgerstate.NotDeployed:
		actions = append(actions, Action{Kind: Fund, Side: SideBeta})
	case ledgerstate.Funded, ledgerstate.IncorrectlyFunded:
		actions = append(actions, Action{Kind: Refund, Side: SideBeta})
	}

	if alpha.Phase == ledgerstate.Funded {
		actions = append(actions, Action{Kind: Redeem, Side: SideAlpha})
	}

	return actions
}
