package action

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/swap"
)

func contains(actions []Action, kind Kind, side Side) bool {
	for _, a := range actions {
		if a.Kind == kind && a.Side == side {
			return true
		}
	}
	return false
}

func TestPlanAliceProposedOffersNothing(t *testing.T) {
	comm := swap.ProposedCommunication(swap.Request{})
	actions := Plan(comm, ledgerstate.Fresh(), ledgerstate.Fresh(), swap.Alice)
	if len(actions) != 0 {
		t.Errorf("expected no actions for proposed swap, got %v", actions)
	}
}

func TestPlanAliceOffersFundThenRefundThenRedeem(t *testing.T) {
	comm := swap.ProposedCommunication(swap.Request{}).Accept(swap.Response{})

	actions := Plan(comm, ledgerstate.Fresh(), ledgerstate.Fresh(), swap.Alice)
	if !contains(actions, Fund, SideAlpha) {
		t.Error("expected Fund(alpha) once accepted with alpha not deployed")
	}

	funded := ledgerstate.State{Phase: ledgerstate.Funded}
	actions = Plan(comm, funded, ledgerstate.Fresh(), swap.Alice)
	if !contains(actions, Refund, SideAlpha) {
		t.Error("expected Refund(alpha) once alpha is funded")
	}

	actions = Plan(comm, funded, funded, swap.Alice)
	if !contains(actions, Redeem, SideBeta) {
		t.Error("expected Redeem(beta) once beta is funded")
	}
}

func TestPlanAliceIncorrectlyFundedOffersOnlyRefund(t *testing.T) {
	comm := swap.ProposedCommunication(swap.Request{}).Accept(swap.Response{})
	incorrectly := ledgerstate.State{Phase: ledgerstate.IncorrectlyFunded}

	actions := Plan(comm, incorrectly, ledgerstate.Fresh(), swap.Alice)
	if contains(actions, Fund, SideAlpha) {
		t.Error("must never offer Fund on an incorrectly funded HTLC")
	}
	if !contains(actions, Refund, SideAlpha) {
		t.Error("expected Refund to remain available")
	}
}

func TestPlanBobOffersAcceptDeclineOnProposed(t *testing.T) {
	comm := swap.ProposedCommunication(swap.Request{})
	actions := Plan(comm, ledgerstate.Fresh(), ledgerstate.Fresh(), swap.Bob)
	if !contains(actions, Accept, "") || !contains(actions, Decline, "") {
		t.Errorf("expected Accept and Decline for Bob on a proposed swap, got %v", actions)
	}
}

func TestPlanBobMirrorsAliceWithSidesSwapped(t *testing.T) {
	comm := swap.ProposedCommunication(swap.Request{}).Accept(swap.Response{})
	funded := ledgerstate.State{Phase: ledgerstate.Funded}

	actions := Plan(comm, funded, funded, swap.Bob)
	if !contains(actions, Redeem, SideAlpha) {
		t.Error("Bob should be offered Redeem(alpha) once alpha is funded")
	}
	if !contains(actions, Refund, SideBeta) {
		t.Error("Bob should be offered Refund(beta) once beta is funded")
	}
}

// allPhases and allRoles enumerate the finite domains of LedgerState
// phase and swap.Role used to exhaustively cover the planner's input
// space.
var allPhases = []ledgerstate.Phase{
	ledgerstate.NotDeployed,
	ledgerstate.Funded,
	ledgerstate.IncorrectlyFunded,
	ledgerstate.Redeemed,
	ledgerstate.Refunded,
}

var allCommPhases = []swap.CommunicationPhase{swap.Proposed, swap.Accepted, swap.Declined}

func TestPlanIsTotalAndNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		commPhase := allCommPhases[rapid.IntRange(0, len(allCommPhases)-1).Draw(t, "comm")]
		alphaPhase := allPhases[rapid.IntRange(0, len(allPhases)-1).Draw(t, "alpha")]
		betaPhase := allPhases[rapid.IntRange(0, len(allPhases)-1).Draw(t, "beta")]
		role := swap.Alice
		if rapid.Bool().Draw(t, "isBob") {
			role = swap.Bob
		}

		comm := swap.Communication{Phase: commPhase}
		alpha := ledgerstate.State{Phase: alphaPhase}
		beta := ledgerstate.State{Phase: betaPhase}

		actions := Plan(comm, alpha, beta, role)
		if actions == nil && commPhase == swap.Accepted {
			// nil is a valid empty list; just make sure nothing panicked and
			// the call returned.
			_ = actions
		}
	})
}
