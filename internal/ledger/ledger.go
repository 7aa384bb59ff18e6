// Package ledger defines the Ledger Connector: the minimal read interface
// the Block Walker and HTLC Event Detector need from a chain client,
// independent of whether the chain is account-based or UTXO.
//
// Concrete RPC clients (JSON-RPC, Lightning, Bitcoin Core RPC) are external
// collaborators; this package only fixes the contract they must satisfy,
// mirroring the way the teacher's internal/backend package separates the
// Backend interface from its concrete mempool/esplora/electrum clients.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sentinel errors. Both are transient. The connectors in this package
// return them on the first failure without retrying and without a
// deadline of their own; the HTLC Event Detector retries on the next
// block and the Block Walker on its next poll.
var (
	ErrNetworkUnavailable = errors.New("ledger: network unavailable")
	ErrNotFound           = errors.New("ledger: block or transaction not found")
)

// BlockHash identifies a block content-addressably. A reorged block that
// later reappears on the canonical chain has a different hash than the
// orphan it replaced, which is what makes the connector cache safe to keep
// unbounded.
type BlockHash string

// Block is the minimal view the Block Walker and HTLC Event Detector need
// of a block, generic over the underlying chain.
type Block interface {
	BlockHash() BlockHash
	PreviousBlockHash() BlockHash
	Timestamp() time.Time
}

// Predates reports whether b's timestamp is strictly before t — the
// predicate the Block Walker uses to find the start-of-swap boundary.
func Predates(b Block, t time.Time) bool {
	return b.Timestamp().Before(t)
}

// Connector is the per-ledger read interface. Implementations may cache
// responses; the cache here is keyed by content hash and never evicts,
// since immutable block contents never change underneath a hash.
type Connector interface {
	LatestBlock(ctx context.Context) (Block, error)
	BlockByHash(ctx context.Context, hash BlockHash) (Block, error)
}

// ReceiptFetcher is implemented by account-based connectors only; UTXO
// chains have no receipt concept.
type ReceiptFetcher interface {
	ReceiptByHash(ctx context.Context, txHash string) (Receipt, error)
}

// Receipt is the generic view of an account-based chain's transaction
// receipt: enough to find the logs the HTLC Event Detector scans.
type Receipt interface {
	TxHash() string
	ContractAddress() (string, bool)
	Logs() []Log
}

// Log is one EVM-style log entry: a contract address, an ordered list of
// indexed topics, and opaque data.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// Cache memoizes Connector responses by block hash. It is shared between
// all watchers on the same chain; concurrent readers are safe, writes go
// through a lock.
type Cache struct {
	mu     sync.RWMutex
	blocks map[BlockHash]Block
}

// NewCache creates an empty, unbounded block cache.
func NewCache() *Cache {
	return &Cache{blocks: make(map[BlockHash]Block)}
}

// Get returns a cached block, if present.
func (c *Cache) Get(hash BlockHash) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[hash]
	return b, ok
}

// Put stores a block in the cache, keyed by its own hash.
func (c *Cache) Put(b Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[b.BlockHash()] = b
}

// CachingConnector wraps a Connector with an unbounded content-addressed
// cache, so repeated BlockByHash calls for the same hash (e.g. across
// overlapping watcher walks) hit memory instead of the network.
type CachingConnector struct {
	Connector
	cache *Cache
}

// NewCachingConnector wraps conn with the given shared cache.
func NewCachingConnector(conn Connector, cache *Cache) *CachingConnector {
	return &CachingConnector{Connector: conn, cache: cache}
}

// BlockByHash serves from cache when possible, else delegates and caches
// the result on success.
func (c *CachingConnector) BlockByHash(ctx context.Context, hash BlockHash) (Block, error) {
	if b, ok := c.cache.Get(hash); ok {
		return b, nil
	}
	b, err := c.Connector.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.cache.Put(b)
	return b, nil
}

// LatestBlock always delegates (the tip is never cacheable) but caches the
// result under its own hash for subsequent BlockByHash lookups.
func (c *CachingConnector) LatestBlock(ctx context.Context) (Block, error) {
	b, err := c.Connector.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Put(b)
	return b, nil
}
