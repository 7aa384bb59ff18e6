package ledger

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthereumBlock adapts a go-ethereum header to the generic Block
// interface.
type EthereumBlock struct {
	header *types.Header
}

// BlockHash implements Block.
func (b *EthereumBlock) BlockHash() BlockHash { return BlockHash(b.header.Hash().Hex()) }

// PreviousBlockHash implements Block.
func (b *EthereumBlock) PreviousBlockHash() BlockHash {
	return BlockHash(b.header.ParentHash.Hex())
}

// Timestamp implements Block.
func (b *EthereumBlock) Timestamp() time.Time {
	return time.Unix(int64(b.header.Time), 0).UTC()
}

// Number returns the block's height, used by callers that want to log or
// bound a walk by height rather than by hash alone.
func (b *EthereumBlock) Number() uint64 { return b.header.Number.Uint64() }

// EthereumReceipt adapts a go-ethereum transaction receipt to the generic
// Receipt interface, the same shape the teacher's contract client parses
// logs out of when looking for a claim's revealed secret.
type EthereumReceipt struct {
	receipt *types.Receipt
}

// TxHash implements Receipt.
func (r *EthereumReceipt) TxHash() string { return r.receipt.TxHash.Hex() }

// ContractAddress implements Receipt. Only present for the transaction
// that deployed the per-swap HTLC contract.
func (r *EthereumReceipt) ContractAddress() (string, bool) {
	if r.receipt.ContractAddress == (common.Address{}) {
		return "", false
	}
	return r.receipt.ContractAddress.Hex(), true
}

// Logs implements Receipt.
func (r *EthereumReceipt) Logs() []Log {
	logs := make([]Log, 0, len(r.receipt.Logs))
	for _, l := range r.receipt.Logs {
		topics := make([]string, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, t.Hex())
		}
		logs = append(logs, Log{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return logs
}

// EthereumConnector implements ledger.Connector and ledger.ReceiptFetcher
// over a go-ethereum JSON-RPC client.
type EthereumConnector struct {
	client *ethclient.Client
}

// NewEthereumConnector wraps an ethclient.Client as a ledger.Connector.
func NewEthereumConnector(client *ethclient.Client) *EthereumConnector {
	return &EthereumConnector{client: client}
}

// LatestBlock implements Connector.
func (c *EthereumConnector) LatestBlock(ctx context.Context) (Block, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, translateEthereumError(err)
	}
	return &EthereumBlock{header: header}, nil
}

// BlockByHash implements Connector.
func (c *EthereumConnector) BlockByHash(ctx context.Context, hash BlockHash) (Block, error) {
	header, err := c.client.HeaderByHash(ctx, common.HexToHash(string(hash)))
	if err != nil {
		return nil, translateEthereumError(err)
	}
	return &EthereumBlock{header: header}, nil
}

// ReceiptByHash implements ReceiptFetcher.
func (c *EthereumConnector) ReceiptByHash(ctx context.Context, txHash string) (Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, translateEthereumError(err)
	}
	return &EthereumReceipt{receipt: receipt}, nil
}

// ContractCreationTx returns the input data and value of a transaction,
// the fields the account-based HTLC Event Detector needs to compare
// against compile_htlc(params) output and the agreed asset amount.
func (c *EthereumConnector) ContractCreationTx(ctx context.Context, txHash string) ([]byte, *big.Int, error) {
	tx, _, err := c.client.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, nil, translateEthereumError(err)
	}
	return tx.Data(), tx.Value(), nil
}

// BlockTxHashes returns the transaction hashes mined in the block at hash,
// the set the HTLC Event Detector fetches receipts for when looking for
// contract-creation and log events.
func (c *EthereumConnector) BlockTxHashes(ctx context.Context, hash BlockHash) ([]string, error) {
	block, err := c.client.BlockByHash(ctx, common.HexToHash(string(hash)))
	if err != nil {
		return nil, translateEthereumError(err)
	}
	hashes := make([]string, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		hashes = append(hashes, tx.Hash().Hex())
	}
	return hashes, nil
}

func translateEthereumError(err error) error {
	if err == ethereum.NotFound {
		return ErrNotFound
	}
	return err
}

// compile-time interface satisfaction checks.
var (
	_ Connector      = (*EthereumConnector)(nil)
	_ ReceiptFetcher = (*EthereumConnector)(nil)
	_ Block          = (*EthereumBlock)(nil)
	_ Receipt        = (*EthereumReceipt)(nil)
)
