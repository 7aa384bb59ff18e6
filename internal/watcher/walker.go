// Package watcher implements the Block Walker: a gap-free forward stream
// of blocks for one ledger, built by walking backward from the tip until
// a known point, then polling.
package watcher

import (
	"context"
	"time"

	"github.com/klingon-exchange/swapcore/internal/ledger"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// Walker streams blocks newer than a start-of-swap timestamp to a
// channel, tolerating reorgs by walking the new tip's ancestry back to
// intersection with what it has already yielded.
//
// The source drives this with a coroutine `yield`; a channel plays the
// same role here and is easier to test, since a test can simply read from
// it.
type Walker struct {
	conn         ledger.Connector
	startOfSwap  time.Time
	pollInterval time.Duration
	log          *logging.Logger

	seen map[ledger.BlockHash]struct{}
}

// New constructs a Walker over conn, yielding blocks postdating
// startOfSwap and polling every pollInterval once caught up to the tip.
func New(conn ledger.Connector, startOfSwap time.Time, pollInterval time.Duration) *Walker {
	return &Walker{
		conn:         conn,
		startOfSwap:  startOfSwap,
		pollInterval: pollInterval,
		log:          logging.GetDefault().Component("block-walker"),
		seen:         make(map[ledger.BlockHash]struct{}),
	}
}

// Run streams blocks on the returned channel until ctx is cancelled, at
// which point it closes the channel. The caller must drain the channel
// (or cancel ctx) to let Run return; Run backpressures by blocking on the
// unbuffered send, so a slow consumer throttles the underlying connector
// calls and the polling delay.
func (w *Walker) Run(ctx context.Context) <-chan ledger.Block {
	out := make(chan ledger.Block)
	go func() {
		defer close(out)
		w.run(ctx, out)
	}()
	return out
}

func (w *Walker) run(ctx context.Context, out chan<- ledger.Block) {
	if !w.catchUpFromTip(ctx, out) {
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.pollOnce(ctx, out) {
				return
			}
		}
	}
}

// catchUpFromTip implements step 1-2 of the algorithm: walk backward from
// the current tip until a block predating startOfSwap is yielded
// (inclusive), recording every yielded hash in seen. A failure to fetch
// the tip retries after pollInterval, since the walker has nothing to
// stream until it succeeds at least once.
func (w *Walker) catchUpFromTip(ctx context.Context, out chan<- ledger.Block) bool {
	for {
		tip, err := w.conn.LatestBlock(ctx)
		if err == nil {
			return w.walkBackwardFrom(ctx, out, tip, func(ledger.BlockHash) bool { return false })
		}
		w.log.Warn("fetching latest block failed", "error", err)

		t := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// pollOnce implements step 3-4: walk backward from the new tip, stopping
// at a block already in seen or one predating startOfSwap, then merges
// the newly yielded hashes into seen.
func (w *Walker) pollOnce(ctx context.Context, out chan<- ledger.Block) bool {
	tip, err := w.conn.LatestBlock(ctx)
	if err != nil {
		w.log.Warn("polling latest block failed", "error", err)
		return true // transient; try again on the next tick
	}
	return w.walkBackwardFrom(ctx, out, tip, func(h ledger.BlockHash) bool {
		_, ok := w.seen[h]
		return ok
	})
}

// walkBackwardFrom yields blocks from tip backward via PreviousBlockHash,
// newest first, until stopAt reports true for the current block or the
// block predates startOfSwap (yielded inclusively either way), merging
// every yielded hash into seen. Returns false if ctx was cancelled
// mid-walk.
func (w *Walker) walkBackwardFrom(ctx context.Context, out chan<- ledger.Block, tip ledger.Block, stopAt func(ledger.BlockHash) bool) bool {
	current := tip
	for {
		select {
		case <-ctx.Done():
			return false
		case out <- current:
		}

		stop := stopAt(current.BlockHash()) || ledger.Predates(current, w.startOfSwap)
		w.seen[current.BlockHash()] = struct{}{}
		if stop {
			return true
		}

		prev, err := w.conn.BlockByHash(ctx, current.PreviousBlockHash())
		if err != nil {
			w.log.Warn("fetching previous block failed", "error", err)
			return true // transient; the next poll will re-walk from the new tip
		}
		current = prev
	}
}
