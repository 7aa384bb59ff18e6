// Package negotiation implements the five one-shot peer negotiation
// stages (announce, ethereum-identity, lightning-identity, secret-hash,
// finalize), each its own libp2p protocol and each a single
// request/response round trip over a length-prefixed JSON stream.
package negotiation

import (
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/klingon-exchange/swapcore/internal/swap"
)

// Stage identifies one of the five negotiation protocols.
type Stage string

const (
	StageAnnounce           Stage = "announce"
	StageEthereumIdentity   Stage = "ethereum-identity"
	StageLightningIdentity  Stage = "lightning-identity"
	StageSecretHash         Stage = "secret-hash"
	StageFinalize           Stage = "finalize"
)

// ProtocolID returns the libp2p protocol identifier for a stage, of the
// form /comit/swap/<stage>/1.0.0.
func ProtocolID(s Stage) protocol.ID {
	return protocol.ID("/comit/swap/" + string(s) + "/1.0.0")
}

// AnnounceRequest carries a SwapDigest, the pre-SwapId identifier both
// peers agree on from their locally proposed params.
type AnnounceRequest struct {
	SwapDigest string `json:"swap_digest"`
}

// AnnounceResponse carries the SwapId Bob mints once he recognizes the
// digest.
type AnnounceResponse struct {
	SwapId swap.SwapId `json:"swap_id"`
}

// EthereumIdentityRequest carries an Ethereum address for the redeem or
// refund side of an account-based HTLC.
type EthereumIdentityRequest struct {
	SwapId  swap.SwapId `json:"swap_id"`
	Address string      `json:"address"`
}

// LightningIdentityRequest carries a Bitcoin-family public key for the
// redeem or refund side of a UTXO HTLC. Named for the source protocol's
// stage identifier; it carries an on-chain pubkey, not a Lightning
// Network channel identity.
type LightningIdentityRequest struct {
	SwapId swap.SwapId `json:"swap_id"`
	Pubkey string      `json:"pubkey"`
}

// SecretHashRequest carries the hex-encoded secret hash Alice derives
// and both peers burn into their respective HTLCs.
type SecretHashRequest struct {
	SwapId     swap.SwapId `json:"swap_id"`
	SecretHash string      `json:"secret_hash"`
}

// FinalizeRequest carries only the SwapId; receiving it sets
// ReceivedFinalized on the local CommunicationState.
type FinalizeRequest struct {
	SwapId swap.SwapId `json:"swap_id"`
}

// Empty is the response shape for stages that acknowledge without
// returning data (ethereum-identity, lightning-identity, secret-hash,
// finalize).
type Empty struct{}
