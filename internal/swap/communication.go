package swap

import "github.com/klingon-exchange/swapcore/internal/htlc"

// Request is what Alice proposes during announce: the parameters for both
// sides of the swap, before Bob has agreed to anything.
type Request struct {
	AlphaParams htlc.HtlcParams
	BetaParams  htlc.HtlcParams
}

// Response is Bob's reply to a Request, carrying his own identities.
type Response struct {
	RedeemIdentity htlc.Identity
	RefundIdentity htlc.Identity
}

// CommunicationPhase tags which CommunicationState variant is active.
type CommunicationPhase string

const (
	Proposed CommunicationPhase = "proposed"
	Accepted CommunicationPhase = "accepted"
	Declined CommunicationPhase = "declined"
)

// Communication is the tagged-variant record of how far negotiation has
// gotten for one swap, from one party's point of view.
type Communication struct {
	Phase    CommunicationPhase
	Request  Request
	Response Response
	Reason   string // set when Phase == Declined
}

// ProposedCommunication starts a swap in the Proposed phase.
func ProposedCommunication(req Request) Communication {
	return Communication{Phase: Proposed, Request: req}
}

// Accept transitions a Proposed communication to Accepted.
func (c Communication) Accept(resp Response) Communication {
	return Communication{Phase: Accepted, Request: c.Request, Response: resp}
}

// Decline transitions a Proposed communication to Declined.
func (c Communication) Decline(reason string) Communication {
	return Communication{Phase: Declined, Request: c.Request, Reason: reason}
}

// State tracks the five flags that gate when a party may send its
// finalize message, plus the two identities received from the
// counterpart (nil until received). Sending finalize while any of the
// first three flags is false, or before both identities have been
// received, is a protocol error the negotiator must refuse to let happen.
type State struct {
	EthereumIdentitySent     bool
	LightningIdentitySent    bool
	SecretHashSentOrReceived bool
	SentFinalized            bool
	ReceivedFinalized        bool

	ReceivedEthereumIdentity  *htlc.Identity
	ReceivedLightningIdentity *htlc.Identity
}

// CanSendFinalize reports whether the first three flags plus both received
// identities are satisfied, the precondition for sending finalize.
func (s State) CanSendFinalize() bool {
	return s.EthereumIdentitySent &&
		s.LightningIdentitySent &&
		s.SecretHashSentOrReceived &&
		s.ReceivedEthereumIdentity != nil &&
		s.ReceivedLightningIdentity != nil
}

// IsFinalized reports whether both directions of finalize have completed.
func (s State) IsFinalized() bool {
	return s.SentFinalized && s.ReceivedFinalized
}
