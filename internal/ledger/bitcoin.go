package ledger

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BitcoinBlock adapts a btcd-style block header to the generic Block
// interface. Only the fields the Block Walker and HTLC Event Detector need
// are kept — full transaction data is fetched separately via
// BitcoinConnector.Transactions.
type BitcoinBlock struct {
	Hash       chainhash.Hash
	PrevHash   chainhash.Hash
	Height     int64
	MinedAt    time.Time
	RawTxCount int
}

// BlockHash implements Block.
func (b *BitcoinBlock) BlockHash() BlockHash { return BlockHash(b.Hash.String()) }

// PreviousBlockHash implements Block.
func (b *BitcoinBlock) PreviousBlockHash() BlockHash { return BlockHash(b.PrevHash.String()) }

// Timestamp implements Block.
func (b *BitcoinBlock) Timestamp() time.Time { return b.MinedAt }

// BitcoinTxOutput is a single output of a Bitcoin-family transaction,
// enough for the HTLC Event Detector's funding/redeem/refund scans.
type BitcoinTxOutput struct {
	ScriptPubKey []byte
	Value        uint64 // satoshis
}

// BitcoinTxInput is a single input, carrying its witness stack so the
// detector can read the claim pre-image or the refund-branch selector
// pushed onto it.
type BitcoinTxInput struct {
	PrevTxID string
	PrevVout uint32
	Witness  [][]byte
}

// BitcoinTx is a decoded Bitcoin-family transaction.
type BitcoinTx struct {
	TxID    string
	Inputs  []BitcoinTxInput
	Outputs []BitcoinTxOutput
}

// BitcoinRPC is the subset of a Bitcoin Core / Litecoin / Dogecoin style
// JSON-RPC node the BitcoinConnector needs. A concrete implementation
// wraps an rpcclient.Client; tests substitute a fake.
type BitcoinRPC interface {
	GetBestBlockHash(ctx context.Context) (chainhash.Hash, error)
	GetBlockHeader(ctx context.Context, hash chainhash.Hash) (*BitcoinBlock, error)
	GetBlockTransactions(ctx context.Context, hash chainhash.Hash) ([]BitcoinTx, error)
}

// BitcoinConnector implements ledger.Connector over a UTXO-chain RPC node.
type BitcoinConnector struct {
	rpc BitcoinRPC
}

// NewBitcoinConnector wraps an RPC client as a ledger.Connector.
func NewBitcoinConnector(rpc BitcoinRPC) *BitcoinConnector {
	return &BitcoinConnector{rpc: rpc}
}

// LatestBlock implements Connector.
func (c *BitcoinConnector) LatestBlock(ctx context.Context) (Block, error) {
	hash, err := c.rpc.GetBestBlockHash(ctx)
	if err != nil {
		return nil, err
	}
	return c.rpc.GetBlockHeader(ctx, hash)
}

// BlockByHash implements Connector.
func (c *BitcoinConnector) BlockByHash(ctx context.Context, hash BlockHash) (Block, error) {
	h, err := chainhash.NewHashFromStr(string(hash))
	if err != nil {
		return nil, ErrNotFound
	}
	return c.rpc.GetBlockHeader(ctx, *h)
}

// Transactions returns the decoded transactions of the block at hash, used
// by the UTXO HTLC Event Detector to scan outputs/witnesses.
func (c *BitcoinConnector) Transactions(ctx context.Context, hash BlockHash) ([]BitcoinTx, error) {
	h, err := chainhash.NewHashFromStr(string(hash))
	if err != nil {
		return nil, ErrNotFound
	}
	return c.rpc.GetBlockTransactions(ctx, *h)
}
