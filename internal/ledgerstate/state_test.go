package ledgerstate

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/klingon-exchange/swapcore/internal/htlc"
)

func TestFreshStateIsNotDeployed(t *testing.T) {
	s := Fresh()
	if s.Phase != NotDeployed {
		t.Errorf("Fresh() phase = %s, want %s", s.Phase, NotDeployed)
	}
}

func TestTransitionToFundedDistinguishesIncorrectAmount(t *testing.T) {
	expected := htlc.BitcoinAsset(100_000)

	correct, err := Fresh().TransitionToFunded(htlc.BitcoinAsset(100_000), expected, Location{TxID: "a"}, "fundtx")
	if err != nil {
		t.Fatal(err)
	}
	if correct.Phase != Funded {
		t.Errorf("phase = %s, want %s", correct.Phase, Funded)
	}

	incorrect, err := Fresh().TransitionToFunded(htlc.BitcoinAsset(50_000), expected, Location{TxID: "b"}, "fundtx2")
	if err != nil {
		t.Fatal(err)
	}
	if incorrect.Phase != IncorrectlyFunded {
		t.Errorf("phase = %s, want %s", incorrect.Phase, IncorrectlyFunded)
	}
}

func TestIncorrectlyFundedOnlyAcceptsRefund(t *testing.T) {
	s, _ := Fresh().TransitionToFunded(htlc.BitcoinAsset(1), htlc.BitcoinAsset(2), Location{}, "tx")
	if _, err := s.TransitionToRedeemed("tx", [32]byte{}); !errors.Is(err, ErrInvalidTransition) {
		t.Error("redeeming an incorrectly funded HTLC must be rejected")
	}
	refunded, err := s.TransitionToRefunded("refundtx")
	if err != nil {
		t.Fatal(err)
	}
	if refunded.Phase != Refunded {
		t.Errorf("phase = %s, want %s", refunded.Phase, Refunded)
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	funded, _ := Fresh().TransitionToFunded(htlc.BitcoinAsset(1), htlc.BitcoinAsset(1), Location{}, "tx")
	redeemed, err := funded.TransitionToRedeemed("redeemtx", [32]byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if !redeemed.IsTerminal() {
		t.Error("redeemed state should be terminal")
	}
	if _, err := redeemed.TransitionToRefunded("refundtx"); !errors.Is(err, ErrInvalidTransition) {
		t.Error("refunding an already-redeemed state must be rejected")
	}
	if _, err := redeemed.TransitionToRedeemed("again", [32]byte{2}); !errors.Is(err, ErrInvalidTransition) {
		t.Error("redeeming twice must be rejected")
	}
}

// event is one of the four possible inputs to a LedgerState, used by the
// property test below to drive a fresh state through random sequences.
type event int

const (
	eventFundCorrect event = iota
	eventFundIncorrect
	eventRedeem
	eventRefund
)

func applyEvent(s State, ev event) (State, error) {
	asset := htlc.BitcoinAsset(100)
	switch ev {
	case eventFundCorrect:
		return s.TransitionToFunded(asset, asset, Location{TxID: "t"}, "fundtx")
	case eventFundIncorrect:
		return s.TransitionToFunded(htlc.BitcoinAsset(1), asset, Location{TxID: "t"}, "fundtx")
	case eventRedeem:
		return s.TransitionToRedeemed("redeemtx", [32]byte{9})
	case eventRefund:
		return s.TransitionToRefunded("refundtx")
	default:
		panic("unreachable")
	}
}

// reachable mirrors the transition rules the state machine is allowed to
// take, independent of the implementation under test.
func reachable(phase Phase, ev event) bool {
	switch phase {
	case NotDeployed:
		return ev == eventFundCorrect || ev == eventFundIncorrect
	case Funded:
		return ev == eventRedeem || ev == eventRefund
	case IncorrectlyFunded:
		return ev == eventRefund
	default:
		return false
	}
}

// TestStateMachineSoundness checks that for any sequence of events applied
// to a fresh LedgerState, every accepted transition matches the allowed
// rule set, and every transition the rules forbid is rejected with
// ErrInvalidTransition.
func TestStateMachineSoundness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Fresh()
		steps := rapid.SliceOfN(rapid.IntRange(0, 3), 0, 8).Draw(t, "events")
		for _, raw := range steps {
			ev := event(raw)
			want := reachable(s.Phase, ev)
			next, err := applyEvent(s, ev)
			if want && err != nil {
				t.Fatalf("expected transition %v from %s to succeed, got %v", ev, s.Phase, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected transition %v from %s to be rejected, got state %s err %v", ev, s.Phase, next.Phase, err)
			}
			if err == nil {
				s = next
			}
		}
	})
}
