package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapcore/internal/htlc"
	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/registry"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// Protocol error sentinels (§2.2 Protocol class). A stage handler returns
// them to the transport, which logs them at warn and closes the stream
// without a response; the process keeps running. The negotiator does not
// add the swap to the registry's failed-swap set.
var (
	ErrUnknownDigest        = errors.New("negotiation: swap digest not awaited")
	ErrOutOfOrder           = errors.New("negotiation: message received out of order")
	ErrRegistryTypeMismatch = errors.New("negotiation: registry entry has unexpected shape")
)

// pendingAnnouncement is a swap Bob has been told to expect, keyed by the
// digest Alice will announce. Staging happens out of band (match-making
// is out of scope); this module only reacts once a digest shows up.
type pendingAnnouncement struct {
	request swap.Request
}

// Negotiator drives the five-stage protocol for swaps this node
// participates in, whether as Alice (initiator) or Bob (responder).
type Negotiator struct {
	transport *Transport
	registry  *registry.Registry
	log       *logging.Logger

	mu       sync.Mutex
	pending  map[swap.Digest]pendingAnnouncement
	peerOf   map[swap.SwapId]peer.ID
}

// New constructs a Negotiator and registers its stage handlers on
// transport.
func New(transport *Transport, reg *registry.Registry) *Negotiator {
	n := &Negotiator{
		transport: transport,
		registry:  reg,
		log:       logging.GetDefault().Component("negotiator"),
		pending:   make(map[swap.Digest]pendingAnnouncement),
		peerOf:    make(map[swap.SwapId]peer.ID),
	}
	n.serve()
	return n
}

func (n *Negotiator) serve() {
	n.transport.Serve(StageAnnounce, n.handleAnnounce)
	n.transport.Serve(StageEthereumIdentity, n.handleEthereumIdentity)
	n.transport.Serve(StageLightningIdentity, n.handleLightningIdentity)
	n.transport.Serve(StageSecretHash, n.handleSecretHash)
	n.transport.Serve(StageFinalize, n.handleFinalize)
}

// WaitForAnnouncement stages a swap Bob is willing to accept, keyed by
// the digest Alice is expected to announce. An announce for any other
// digest is rejected per S6.
func (n *Negotiator) WaitForAnnouncement(digest swap.Digest, req swap.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[digest] = pendingAnnouncement{request: req}
}

// Propose is Alice's entry point: compute the digest of req, announce it
// to p, and seed both local registries with the resulting SwapId once
// Bob responds.
func (n *Negotiator) Propose(ctx context.Context, p peer.ID, req swap.Request) (swap.SwapId, error) {
	digest, err := digestOf(req)
	if err != nil {
		return swap.SwapId{}, fmt.Errorf("negotiation: compute digest: %w", err)
	}

	var resp AnnounceResponse
	if err := n.transport.Call(ctx, p, StageAnnounce, AnnounceRequest{SwapDigest: string(digest)}, &resp); err != nil {
		return swap.SwapId{}, err
	}

	n.mu.Lock()
	n.peerOf[resp.SwapId] = p
	n.mu.Unlock()

	n.registry.Communication.Insert(resp.SwapId, swap.ProposedCommunication(req))
	n.registry.Alpha.Insert(resp.SwapId, ledgerstate.Fresh())
	n.registry.Beta.Insert(resp.SwapId, ledgerstate.Fresh())

	return resp.SwapId, nil
}

func digestOf(req swap.Request) (swap.Digest, error) {
	canonical := fmt.Sprintf("%+v", req)
	return swap.DigestOf([]byte(canonical))
}

func (n *Negotiator) handleAnnounce(ctx context.Context, remote peer.ID, requestJSON []byte) ([]byte, error) {
	var req AnnounceRequest
	if err := unmarshal(requestJSON, &req); err != nil {
		return nil, err
	}

	n.mu.Lock()
	pending, ok := n.pending[swap.Digest(req.SwapDigest)]
	if ok {
		delete(n.pending, swap.Digest(req.SwapDigest))
	}
	n.mu.Unlock()

	if !ok {
		n.log.Warn("announce for unknown digest, closing substream", "digest", req.SwapDigest, "peer", remote)
		return nil, ErrUnknownDigest
	}

	id := swap.NewSwapId()
	n.mu.Lock()
	n.peerOf[id] = remote
	n.mu.Unlock()

	n.registry.Communication.Insert(id, swap.ProposedCommunication(pending.request).Accept(swap.Response{}))
	n.registry.Alpha.Insert(id, ledgerstate.Fresh())
	n.registry.Beta.Insert(id, ledgerstate.Fresh())

	return marshal(AnnounceResponse{SwapId: id})
}

// SendEthereumIdentity sends this node's Ethereum address to the
// counterparty and marks the local flag. Calling it again sends the
// message again; the flag simply stays set.
func (n *Negotiator) SendEthereumIdentity(ctx context.Context, id swap.SwapId, addr common.Address) error {
	p, err := n.peerFor(id)
	if err != nil {
		return err
	}
	if err := n.transport.Call(ctx, p, StageEthereumIdentity, EthereumIdentityRequest{SwapId: id, Address: addr.Hex()}, nil); err != nil {
		return err
	}
	return n.updateState(id, func(s *swap.State) { s.EthereumIdentitySent = true })
}

func (n *Negotiator) handleEthereumIdentity(ctx context.Context, remote peer.ID, requestJSON []byte) ([]byte, error) {
	var req EthereumIdentityRequest
	if err := unmarshal(requestJSON, &req); err != nil {
		return nil, err
	}
	identity := htlc.EthereumIdentity(common.HexToAddress(req.Address))
	if err := n.updateState(req.SwapId, func(s *swap.State) {
		// Re-delivery of the same identity leaves the flag/value
		// unchanged, satisfying negotiation idempotence (property 4).
		s.ReceivedEthereumIdentity = &identity
	}); err != nil {
		return nil, err
	}
	return marshal(Empty{})
}

// SendLightningIdentity sends this node's Bitcoin-family public key to
// the counterparty and marks the local flag.
func (n *Negotiator) SendLightningIdentity(ctx context.Context, id swap.SwapId, pubkeyHex string) error {
	p, err := n.peerFor(id)
	if err != nil {
		return err
	}
	if err := n.transport.Call(ctx, p, StageLightningIdentity, LightningIdentityRequest{SwapId: id, Pubkey: pubkeyHex}, nil); err != nil {
		return err
	}
	return n.updateState(id, func(s *swap.State) { s.LightningIdentitySent = true })
}

func (n *Negotiator) handleLightningIdentity(ctx context.Context, remote peer.ID, requestJSON []byte) ([]byte, error) {
	var req LightningIdentityRequest
	if err := unmarshal(requestJSON, &req); err != nil {
		return nil, err
	}
	identity := htlc.Identity{Kind: htlc.IdentityBitcoin}
	if err := n.updateState(req.SwapId, func(s *swap.State) {
		s.ReceivedLightningIdentity = &identity
	}); err != nil {
		return nil, err
	}
	return marshal(Empty{})
}

// SendSecretHash sends the negotiated secret hash and marks the local
// flag. Whichever of Alice or Bob sends it, both sides mark the same
// SecretHashSentOrReceived flag — §4.5 treats it as one combined flag
// regardless of direction.
func (n *Negotiator) SendSecretHash(ctx context.Context, id swap.SwapId, secretHashHex string) error {
	p, err := n.peerFor(id)
	if err != nil {
		return err
	}
	if err := n.transport.Call(ctx, p, StageSecretHash, SecretHashRequest{SwapId: id, SecretHash: secretHashHex}, nil); err != nil {
		return err
	}
	return n.updateState(id, func(s *swap.State) { s.SecretHashSentOrReceived = true })
}

func (n *Negotiator) handleSecretHash(ctx context.Context, remote peer.ID, requestJSON []byte) ([]byte, error) {
	var req SecretHashRequest
	if err := unmarshal(requestJSON, &req); err != nil {
		return nil, err
	}
	if err := n.updateState(req.SwapId, func(s *swap.State) { s.SecretHashSentOrReceived = true }); err != nil {
		return nil, err
	}
	return marshal(Empty{})
}

// ErrFinalizePreconditionsNotMet is returned by SendFinalize when
// CanSendFinalize does not hold, refusing to send an out-of-order
// finalize rather than letting the wire carry an invalid state.
var ErrFinalizePreconditionsNotMet = errors.New("negotiation: finalize preconditions not met")

// SendFinalize sends this node's finalize message, refusing unless
// CanSendFinalize holds for the current communication state.
func (n *Negotiator) SendFinalize(ctx context.Context, id swap.SwapId) error {
	_, state, err := n.registry.Communication.Get(id)
	if err != nil {
		return err
	}
	if !state.CanSendFinalize() {
		return fmt.Errorf("%w: swap %s", ErrFinalizePreconditionsNotMet, id)
	}

	p, err := n.peerFor(id)
	if err != nil {
		return err
	}
	if err := n.transport.Call(ctx, p, StageFinalize, FinalizeRequest{SwapId: id}, nil); err != nil {
		return err
	}
	return n.updateState(id, func(s *swap.State) { s.SentFinalized = true })
}

func (n *Negotiator) handleFinalize(ctx context.Context, remote peer.ID, requestJSON []byte) ([]byte, error) {
	var req FinalizeRequest
	if err := unmarshal(requestJSON, &req); err != nil {
		return nil, err
	}
	if err := n.updateState(req.SwapId, func(s *swap.State) { s.ReceivedFinalized = true }); err != nil {
		return nil, err
	}
	return marshal(Empty{})
}

func (n *Negotiator) updateState(id swap.SwapId, mutate func(*swap.State)) error {
	_, state, err := n.registry.Communication.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfOrder, err)
	}
	mutate(&state)
	return n.registry.Communication.UpdateState(id, state)
}

func (n *Negotiator) peerFor(id swap.SwapId) (peer.ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peerOf[id]
	if !ok {
		return "", fmt.Errorf("%w: no known peer for swap %s", ErrOutOfOrder, id)
	}
	return p, nil
}
