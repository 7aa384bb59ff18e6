package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/klingon-exchange/swapcore/internal/ledger"
)

type testBlock struct {
	hash  ledger.BlockHash
	prev  ledger.BlockHash
	mined time.Time
}

func (b *testBlock) BlockHash() ledger.BlockHash         { return b.hash }
func (b *testBlock) PreviousBlockHash() ledger.BlockHash { return b.prev }
func (b *testBlock) Timestamp() time.Time                { return b.mined }

var _ ledger.Block = (*testBlock)(nil)

// fakeChain is a connector over an in-memory linear or forked chain the
// test can mutate between polls, simulating new blocks and reorgs.
type fakeChain struct {
	blocks map[ledger.BlockHash]*testBlock
	tip    ledger.BlockHash
}

func newFakeChain() *fakeChain {
	return &fakeChain{blocks: make(map[ledger.BlockHash]*testBlock)}
}

func (c *fakeChain) add(hash, prev ledger.BlockHash, mined time.Time) {
	c.blocks[hash] = &testBlock{hash: hash, prev: prev, mined: mined}
	c.tip = hash
}

func (c *fakeChain) LatestBlock(ctx context.Context) (ledger.Block, error) {
	b, ok := c.blocks[c.tip]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return b, nil
}

func (c *fakeChain) BlockByHash(ctx context.Context, hash ledger.BlockHash) (ledger.Block, error) {
	b, ok := c.blocks[hash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return b, nil
}

func drain(t *testing.T, ch <-chan ledger.Block, n int, timeout time.Duration) []ledger.Block {
	t.Helper()
	got := make([]ledger.Block, 0, n)
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case b, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d expected blocks", len(got), n)
			}
			got = append(got, b)
		case <-deadline:
			t.Fatalf("timed out after %d of %d expected blocks", len(got), n)
		}
	}
	return got
}

func TestWalkerYieldsBlocksPostdatingStartOfSwap(t *testing.T) {
	chain := newFakeChain()
	base := time.Unix(1_700_000_000, 0)
	chain.add("genesis", "", base.Add(-10*time.Minute))
	chain.add("b1", "genesis", base.Add(30*time.Second))
	chain.add("b2", "b1", base.Add(1*time.Minute))
	chain.add("b3", "b2", base.Add(2*time.Minute))

	w := New(chain, base, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := w.Run(ctx)
	got := drain(t, out, 4, time.Second)

	wantOrder := []ledger.BlockHash{"b3", "b2", "b1"}
	for i, h := range wantOrder {
		if got[i].BlockHash() != h {
			t.Errorf("position %d = %s, want %s", i, got[i].BlockHash(), h)
		}
	}
	if got[3].BlockHash() != "genesis" {
		t.Errorf("expected the predating block to be yielded inclusively, got %s", got[3].BlockHash())
	}
}

func TestWalkerPollsForNewBlocksWithoutGaps(t *testing.T) {
	chain := newFakeChain()
	base := time.Unix(1_700_000_000, 0)
	chain.add("genesis", "", base.Add(-time.Minute))

	w := New(chain, base, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := w.Run(ctx)
	drain(t, out, 1, time.Second) // genesis, the initial catch-up yield

	chain.add("b1", "genesis", base.Add(time.Second))
	chain.add("b2", "b1", base.Add(2*time.Second))

	got := drain(t, out, 2, time.Second)
	if got[0].BlockHash() != "b2" || got[1].BlockHash() != "b1" {
		t.Errorf("expected newest-to-oldest poll yield [b2 b1], got [%s %s]", got[0].BlockHash(), got[1].BlockHash())
	}
}

func TestWalkerToleratesReorg(t *testing.T) {
	chain := newFakeChain()
	base := time.Unix(1_700_000_000, 0)
	chain.add("genesis", "", base.Add(-time.Minute))
	chain.add("a1", "genesis", base.Add(time.Second))

	w := New(chain, base, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := w.Run(ctx)
	drain(t, out, 2, time.Second) // a1, genesis

	// reorg: a1 is replaced by a competing block b1 off genesis
	chain.add("b1", "genesis", base.Add(2*time.Second))

	got := drain(t, out, 1, time.Second)
	if got[0].BlockHash() != "b1" {
		t.Errorf("expected the reorg branch tip b1, got %s", got[0].BlockHash())
	}
}

func TestWalkerStopsOnCancellation(t *testing.T) {
	chain := newFakeChain()
	base := time.Unix(1_700_000_000, 0)
	chain.add("genesis", "", base.Add(-time.Minute))

	w := New(chain, base, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	out := w.Run(ctx)
	drain(t, out, 1, time.Second)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected no further blocks after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after cancellation")
	}
}

// TestWalkerGapFreeness grows a chain by one block per round for six
// rounds, branching the fourth block off genesis instead of the tip (a
// reorg), and checks that every block ever placed on the simulated chain
// was yielded (property 2: gap-freeness under reorgs).
func TestWalkerGapFreeness(t *testing.T) {
	chain := newFakeChain()
	base := time.Unix(1_700_000_000, 0)
	chain.add("genesis", "", base.Add(-time.Minute))

	w := New(chain, base, 15*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := w.Run(ctx)
	yielded := make(map[ledger.BlockHash]struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for b := range out {
			yielded[b.BlockHash()] = struct{}{}
		}
	}()

	seq := 0
	lastTip := ledger.BlockHash("genesis")
	for round := 0; round < 6; round++ {
		time.Sleep(30 * time.Millisecond)
		if round == 3 {
			// reorg: branch a new block off genesis instead of extending the tip
			lastTip = "genesis"
		}
		seq++
		hash := ledger.BlockHash(fmt.Sprintf("r%d", seq))
		chain.add(hash, lastTip, base.Add(time.Duration(seq)*time.Second))
		lastTip = hash
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	for hash := range chain.blocks {
		if _, ok := yielded[hash]; !ok {
			t.Errorf("block %s was never yielded", hash)
		}
	}
}
