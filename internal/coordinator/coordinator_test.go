package coordinator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/klingon-exchange/swapcore/internal/htlc"
	"github.com/klingon-exchange/swapcore/internal/ledger"
	"github.com/klingon-exchange/swapcore/internal/ledgerstate"
	"github.com/klingon-exchange/swapcore/internal/registry"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/watcher"
)

type fakeBlock struct{ hash ledger.BlockHash }

func (b fakeBlock) BlockHash() ledger.BlockHash         { return b.hash }
func (b fakeBlock) PreviousBlockHash() ledger.BlockHash { return "genesis" }
func (b fakeBlock) Timestamp() time.Time                { return time.Now().Add(time.Hour) }

type fakeConn struct{}

func (fakeConn) LatestBlock(ctx context.Context) (ledger.Block, error) {
	return fakeBlock{hash: "tip"}, nil
}
func (fakeConn) BlockByHash(ctx context.Context, hash ledger.BlockHash) (ledger.Block, error) {
	return fakeBlock{hash: hash}, nil
}

// scriptedDetector returns fixed results for each stage, in order,
// without touching the block stream at all.
type scriptedDetector struct {
	funded        htlc.Funded
	fundedErr     error
	redeemed      htlc.Redeemed
	redeemedErr   error
	redeemedDelay time.Duration
	refunded      htlc.Refunded
	refundedErr   error
	refundedDelay time.Duration
}

func (d scriptedDetector) HtlcFunded(ctx context.Context, blocks <-chan ledger.Block) (htlc.Funded, error) {
	return d.funded, d.fundedErr
}

func (d scriptedDetector) HtlcRedeemed(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Redeemed, error) {
	if d.redeemedErr != nil {
		return htlc.Redeemed{}, d.redeemedErr
	}
	select {
	case <-time.After(d.redeemedDelay):
		return d.redeemed, nil
	case <-ctx.Done():
		return htlc.Redeemed{}, ctx.Err()
	}
}

func (d scriptedDetector) HtlcRefunded(ctx context.Context, funded htlc.Funded, blocks <-chan ledger.Block) (htlc.Refunded, error) {
	if d.refundedErr != nil {
		return htlc.Refunded{}, d.refundedErr
	}
	select {
	case <-time.After(d.refundedDelay):
		return d.refunded, nil
	case <-ctx.Done():
		return htlc.Refunded{}, ctx.Err()
	}
}

func newWalker() *watcher.Walker {
	return watcher.New(fakeConn{}, time.Now().Add(-time.Hour), 50*time.Millisecond)
}

func TestRunLedgerWatcherFundsThenRedeems(t *testing.T) {
	reg := registry.New()
	id := swap.NewSwapId()
	params := htlc.HtlcParams{Asset: htlc.EtherAsset(big.NewInt(100))}

	d := scriptedDetector{
		funded:   htlc.Funded{Asset: htlc.EtherAsset(big.NewInt(100)), Transaction: "fund-tx"},
		redeemed: htlc.Redeemed{Transaction: "redeem-tx", Secret: [32]byte{1}},
		// make refund "never" complete within the test window
		refundedDelay: time.Hour,
	}

	events := make(chan SwapEvent, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := RunLedgerWatcher(ctx, id, registry.Alpha, params, d, newWalker(), reg, events)
	if err != nil {
		t.Fatalf("RunLedgerWatcher: %v", err)
	}

	state, err := reg.Alpha.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.Phase != ledgerstate.Redeemed {
		t.Errorf("got phase %s, want redeemed", state.Phase)
	}
	if state.Secret != ([32]byte{1}) {
		t.Errorf("got secret %x, want 01...", state.Secret)
	}
}

func TestRunLedgerWatcherIncorrectlyFundedStillRacesToRefund(t *testing.T) {
	reg := registry.New()
	id := swap.NewSwapId()
	params := htlc.HtlcParams{Asset: htlc.EtherAsset(big.NewInt(100))}

	d := scriptedDetector{
		funded:   htlc.Funded{Asset: htlc.EtherAsset(big.NewInt(1)), Transaction: "fund-tx"}, // wrong amount
		refunded: htlc.Refunded{Transaction: "refund-tx"},
		// redeem "never" completes
		redeemedDelay: time.Hour,
	}

	events := make(chan SwapEvent, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := RunLedgerWatcher(ctx, id, registry.Alpha, params, d, newWalker(), reg, events)
	if err != nil {
		t.Fatalf("RunLedgerWatcher: %v", err)
	}

	state, err := reg.Alpha.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.Phase != ledgerstate.Refunded {
		t.Errorf("got phase %s, want refunded", state.Phase)
	}
}

func TestRunSwapMarksRegistryFailedOnDetectorError(t *testing.T) {
	reg := registry.New()
	id := swap.NewSwapId()

	okDetector := scriptedDetector{funded: htlc.Funded{}, redeemed: htlc.Redeemed{}, refundedDelay: time.Hour}
	badDetector := scriptedDetector{fundedErr: errors.New("rpc exploded")}

	err := RunSwap(context.Background(), id, htlc.HtlcParams{}, htlc.HtlcParams{}, okDetector, badDetector, newWalker(), newWalker(), reg, nil)
	if err == nil {
		t.Fatal("expected RunSwap to return the failing side's error")
	}
	if !reg.Failed.IsFailed(id) {
		t.Error("expected the swap to be marked failed in the registry")
	}
}

func TestClassifyOutcome(t *testing.T) {
	refunded := ledgerstate.State{Phase: ledgerstate.Refunded}
	redeemed := ledgerstate.State{Phase: ledgerstate.Redeemed}
	pending := ledgerstate.State{Phase: ledgerstate.Funded}

	if got := ClassifyOutcome(refunded, refunded); got != OutcomeBothRefunded {
		t.Errorf("got %s, want both_refunded", got)
	}
	if got := ClassifyOutcome(redeemed, redeemed); got != OutcomeBothRedeemed {
		t.Errorf("got %s, want both_redeemed", got)
	}
	if got := ClassifyOutcome(redeemed, refunded); got != OutcomePartialFailure {
		t.Errorf("got %s, want partial_failure", got)
	}
	if got := ClassifyOutcome(pending, refunded); got != OutcomePending {
		t.Errorf("got %s, want pending", got)
	}
}
