// Package swap holds the identifiers and communication-state types shared
// between the negotiation protocol, the swap coordinator, and the
// registries: everything keyed by a swap's identity rather than owned by
// one ledger side.
package swap

import (
	"github.com/google/uuid"
	"github.com/multiformats/go-multihash"
)

// NodeLocalSwapId identifies a swap within this node only, stable across
// restarts. It exists before a peer is even contacted.
type NodeLocalSwapId uuid.UUID

// NewNodeLocalSwapId mints a fresh local id for a swap this node is about
// to propose or has just been asked to consider.
func NewNodeLocalSwapId() NodeLocalSwapId {
	return NodeLocalSwapId(uuid.New())
}

func (id NodeLocalSwapId) String() string {
	return uuid.UUID(id).String()
}

// SwapId is the identifier the two peers agree on once Bob responds to
// Alice's announce. It does not exist before negotiation starts.
type SwapId uuid.UUID

// NewSwapId mints a fresh shared id, called by Bob when responding to an
// announce.
func NewSwapId() SwapId {
	return SwapId(uuid.New())
}

func (id SwapId) String() string {
	return uuid.UUID(id).String()
}

// Role is which of the two canonical swap parties this node is playing
// for a given swap.
type Role string

const (
	Alice Role = "alice" // holds the secret
	Bob   Role = "bob"   // learns the secret from beta's redemption
)

// Digest is a multihash of a proposed swap's parameters, serving as the
// cross-peer key during announce before a SwapId is minted.
type Digest string

// DigestOf hashes the canonical byte encoding of a proposed swap's
// parameters (the caller is responsible for producing a stable encoding).
func DigestOf(canonicalParams []byte) (Digest, error) {
	sum, err := multihash.Sum(canonicalParams, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return Digest(sum.HexString()), nil
}
