// Package coordinator implements the per-ledger-side watcher state
// machine and the swap-level driver that composes two of them (alpha,
// beta) into one swap.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapcore/internal/htlc"
	"github.com/klingon-exchange/swapcore/internal/ledger"
	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/registry"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/watcher"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// Fatal-class sentinels (§2.2): the caller refuses to start or stop
// running the affected swap outright.
var (
	ErrUnsupportedLedgerTuple = errors.New("coordinator: unsupported ledger/asset tuple")
	ErrConfigInvalid          = errors.New("coordinator: invalid configuration")
)

// Detector is the ledger-family-agnostic shape the coordinator drives: a
// funded/redeemed/refunded scan over a block stream. AccountAdapter and
// UTXOAdapter close over the extra arguments htlc.AccountDetector and
// htlc.UTXODetector need (params, compiled script) so both satisfy this
// one interface.
type Detector interface {
	HtlcFunded(ctx context.Context, blocks <-chan ledger.Block) (htlc.Funded, error)
	HtlcRedeemed(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Redeemed, error)
	HtlcRefunded(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Refunded, error)
}

// AccountAdapter adapts an *htlc.AccountDetector to Detector by closing
// over the HtlcParams it needs for the funding scan.
type AccountAdapter struct {
	Detector *htlc.AccountDetector
	Params   htlc.HtlcParams
}

func (a AccountAdapter) HtlcFunded(ctx context.Context, blocks <-chan ledger.Block) (htlc.Funded, error) {
	return a.Detector.HtlcFunded(ctx, a.Params, blocks)
}
func (a AccountAdapter) HtlcRedeemed(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Redeemed, error) {
	return a.Detector.HtlcRedeemed(ctx, funded, blocks)
}
func (a AccountAdapter) HtlcRefunded(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Refunded, error) {
	return a.Detector.HtlcRefunded(ctx, funded, blocks)
}

// UTXOAdapter adapts an *htlc.UTXODetector to Detector by closing over
// the compiled script and params the funding scan needs.
type UTXOAdapter struct {
	Detector *htlc.UTXODetector
	Script   []byte
	Params   htlc.HtlcParams
}

func (a UTXOAdapter) HtlcFunded(ctx context.Context, blocks <-chan ledger.Block) (htlc.Funded, error) {
	return a.Detector.HtlcFunded(ctx, a.Script, a.Params, blocks)
}
func (a UTXOAdapter) HtlcRedeemed(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Redeemed, error) {
	return a.Detector.HtlcRedeemed(ctx, funded, blocks)
}
func (a UTXOAdapter) HtlcRefunded(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Refunded, error) {
	return a.Detector.HtlcRefunded(ctx, funded, blocks)
}

// EventKind tags which on-chain milestone a SwapEvent reports.
type EventKind string

const (
	EventFunded   EventKind = "funded"
	EventRedeemed EventKind = "redeemed"
	EventRefunded EventKind = "refunded"
)

// SwapEvent is emitted once per milestone reached on one side of a swap.
type SwapEvent struct {
	SwapId swap.SwapId
	Side   registry.LedgerSide
	Kind   EventKind
}

func toLedgerLocation(l htlc.Location) ledgerstate.Location {
	return ledgerstate.Location{ContractAddress: l.ContractAddress, TxID: l.TxID, Vout: l.Vout}
}

// RunLedgerWatcher drives one side of one swap through its full
// lifecycle: fund, then race redeem against refund, transitioning the
// registry's ledger state at each milestone and publishing a SwapEvent.
// It returns when the side reaches a terminal state, ctx is cancelled,
// or a non-transient error occurs — the caller marks the swap failed on
// any returned error (§4.4's "on any error ... return error; outer
// driver marks swap as failed").
func RunLedgerWatcher(
	ctx context.Context,
	id swap.SwapId,
	side registry.LedgerSide,
	params htlc.HtlcParams,
	detector Detector,
	w *watcher.Walker,
	reg *registry.Registry,
	events chan<- SwapEvent,
) error {
	log := logging.GetDefault().Component("coordinator").With("swap_id", id.String(), "side", side)

	ledgerReg := reg.LedgerFor(side)
	ledgerReg.Insert(id, ledgerstate.Fresh())

	blocks := w.Run(ctx)

	funded, err := detector.HtlcFunded(ctx, blocks)
	if err != nil {
		return fmt.Errorf("coordinator: %s watcher funding scan: %w", side, err)
	}

	current, err := ledgerReg.Get(id)
	if err != nil {
		return err
	}
	next, err := current.TransitionToFunded(funded.Asset, params.Asset, toLedgerLocation(funded.Location), funded.Transaction)
	if err != nil {
		return err
	}
	if err := ledgerReg.Update(id, next); err != nil {
		return err
	}
	log.Info("htlc funded", "correctly_funded", next.Phase == ledgerstate.Funded)
	publish(events, SwapEvent{SwapId: id, Side: side, Kind: EventFunded})

	if next.Phase == ledgerstate.IncorrectlyFunded {
		// Only a refund is legal from here; fall through to the same
		// redeem/refund race, which TransitionToRedeemed will reject.
	}

	return raceRedeemOrRefund(ctx, id, side, funded, ledgerReg, blocks, detector, events, log)
}

func raceRedeemOrRefund(
	ctx context.Context,
	id swap.SwapId,
	side registry.LedgerSide,
	funded htlc.Funded,
	ledgerReg *registry.LedgerRegistry,
	blocks <-chan ledger.Block,
	detector Detector,
	events chan<- SwapEvent,
	log *logging.Logger,
) error {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type redeemResult struct {
		r   htlc.Redeemed
		err error
	}
	type refundResult struct {
		r   htlc.Refunded
		err error
	}

	redeemCh := make(chan redeemResult, 1)
	refundCh := make(chan refundResult, 1)

	// Both scanners must see every block, not split the stream between
	// them, so fan the single walker stream out to one channel per
	// scanner before racing them.
	redeemBlocks := make(chan ledger.Block)
	refundBlocks := make(chan ledger.Block)
	go broadcast(raceCtx, blocks, redeemBlocks, refundBlocks)

	go func() {
		r, err := detector.HtlcRedeemed(raceCtx, funded, redeemBlocks)
		redeemCh <- redeemResult{r, err}
	}()
	go func() {
		r, err := detector.HtlcRefunded(raceCtx, funded, refundBlocks)
		refundCh <- refundResult{r, err}
	}()

	select {
	case res := <-redeemCh:
		cancel()
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("coordinator: %s watcher redeem scan: %w", side, res.err)
		}
		return applyRedeemed(id, side, ledgerReg, res.r, events, log)

	case res := <-refundCh:
		cancel()
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("coordinator: %s watcher refund scan: %w", side, res.err)
		}
		return applyRefunded(id, side, ledgerReg, res.r, events, log)

	case <-ctx.Done():
		return nil
	}
}

// broadcast duplicates every block received on in onto both out1 and
// out2, so two independent consumers can race over the same forward
// stream instead of splitting it between them. It returns once in closes
// or ctx is cancelled, closing both outputs either way.
func broadcast(ctx context.Context, in <-chan ledger.Block, out1, out2 chan<- ledger.Block) {
	defer close(out1)
	defer close(out2)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			select {
			case out1 <- b:
			case <-ctx.Done():
				return
			}
			select {
			case out2 <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func applyRedeemed(id swap.SwapId, side registry.LedgerSide, ledgerReg *registry.LedgerRegistry, r htlc.Redeemed, events chan<- SwapEvent, log *logging.Logger) error {
	current, err := ledgerReg.Get(id)
	if err != nil {
		return err
	}
	next, err := current.TransitionToRedeemed(r.Transaction, r.Secret)
	if err != nil {
		return err
	}
	if err := ledgerReg.Update(id, next); err != nil {
		return err
	}
	log.Info("htlc redeemed")
	publish(events, SwapEvent{SwapId: id, Side: side, Kind: EventRedeemed})
	return nil
}

func applyRefunded(id swap.SwapId, side registry.LedgerSide, ledgerReg *registry.LedgerRegistry, r htlc.Refunded, events chan<- SwapEvent, log *logging.Logger) error {
	current, err := ledgerReg.Get(id)
	if err != nil {
		return err
	}
	next, err := current.TransitionToRefunded(r.Transaction)
	if err != nil {
		return err
	}
	if err := ledgerReg.Update(id, next); err != nil {
		return err
	}
	log.Info("htlc refunded")
	publish(events, SwapEvent{SwapId: id, Side: side, Kind: EventRefunded})
	return nil
}

func publish(events chan<- SwapEvent, e SwapEvent) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}

// Outcome classifies how a completed swap ended, per §4.4(a)-(c).
type Outcome string

const (
	OutcomeBothRefunded   Outcome = "both_refunded"
	OutcomeBothRedeemed   Outcome = "both_redeemed"
	OutcomePartialFailure Outcome = "partial_failure" // one side redeemed, the other refunded
	OutcomePending        Outcome = "pending"
)

// ClassifyOutcome reports the swap-level outcome once both sides reach a
// terminal ledgerstate.Phase; OutcomePending if either has not.
func ClassifyOutcome(alpha, beta ledgerstate.State) Outcome {
	if !alpha.IsTerminal() || !beta.IsTerminal() {
		return OutcomePending
	}
	if alpha.Phase == ledgerstate.Refunded && beta.Phase == ledgerstate.Refunded {
		return OutcomeBothRefunded
	}
	if alpha.Phase == ledgerstate.Redeemed && beta.Phase == ledgerstate.Redeemed {
		return OutcomeBothRedeemed
	}
	return OutcomePartialFailure
}

// RunSwap spawns both ledger-side watchers for a finalized swap and
// waits for both to finish, returning once the swap reaches a terminal
// outcome (or ctx is cancelled). On any per-side error, it marks the
// swap failed in the registry and returns the error.
func RunSwap(
	ctx context.Context,
	id swap.SwapId,
	alphaParams, betaParams htlc.HtlcParams,
	alphaDetector, betaDetector Detector,
	alphaWalker, betaWalker *watcher.Walker,
	reg *registry.Registry,
	events chan<- SwapEvent,
) error {
	swapCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- RunLedgerWatcher(swapCtx, id, registry.Alpha, alphaParams, alphaDetector, alphaWalker, reg, events)
	}()
	go func() {
		errCh <- RunLedgerWatcher(swapCtx, id, registry.Beta, betaParams, betaDetector, betaWalker, reg, events)
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		reg.Fail(id)
		return firstErr
	}
	return nil
}
