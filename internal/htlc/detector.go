package htlc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/swapcore/internal/ledger"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// ErrBlockUnavailable and ErrDecoding are transient: the caller retries
// indefinitely rather than treating them as a terminal detector failure.
var (
	ErrBlockUnavailable = errors.New("htlc: block unavailable")
	ErrDecoding         = errors.New("htlc: could not decode candidate transaction")
)

// Funded is returned once a funding transaction is observed, on either
// ledger family.
type Funded struct {
	Asset       Asset
	Location    Location
	Transaction string
}

// Location identifies where an HTLC landed on-chain.
type Location struct {
	ContractAddress string // account-based chains
	TxID            string // UTXO chains
	Vout            uint32 // UTXO chains
}

// Redeemed is returned once a redeeming transaction is observed.
type Redeemed struct {
	Transaction string
	Secret      [32]byte
}

// Refunded is returned once a refunding transaction is observed.
type Refunded struct {
	Transaction string
}

// retryUntil calls fn on every block read from blocks until it returns a
// non-transient result (ok or a non-transient error) or ctx is cancelled.
// Transient errors are logged and retried on the next block.
func retryUntil[T any](ctx context.Context, log *logging.Logger, blocks <-chan ledger.Block, fn func(ledger.Block) (T, bool, error)) (T, error) {
	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return zero, fmt.Errorf("htlc: block stream closed before a match was found")
			}
			result, matched, err := fn(b)
			if err != nil {
				if isTransient(err) {
					log.Warn("transient error scanning block, retrying", "error", err, "block", b.BlockHash())
					continue
				}
				return zero, err
			}
			if matched {
				return result, nil
			}
		}
	}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrBlockUnavailable) || errors.Is(err, ErrDecoding) || errors.Is(err, ledger.ErrNetworkUnavailable) || errors.Is(err, ledger.ErrNotFound)
}

// AccountChainSource is the slice of an account-based ledger.Connector the
// Detector needs beyond the base Connector interface.
type AccountChainSource interface {
	ledger.ReceiptFetcher
	BlockTxHashes(ctx context.Context, hash ledger.BlockHash) ([]string, error)
	ContractCreationTx(ctx context.Context, txHash string) ([]byte, *big.Int, error)
}

// AccountDetector implements htlc_funded/htlc_redeemed/htlc_refunded for
// account-based chains: a contract-creation transaction for funding, and
// log topics for redeem/refund.
type AccountDetector struct {
	source AccountChainSource
	log    *logging.Logger
}

// NewAccountDetector constructs a detector over an account-based chain
// source.
func NewAccountDetector(source AccountChainSource) *AccountDetector {
	return &AccountDetector{source: source, log: logging.GetDefault().Component("htlc-detector-account")}
}

// HtlcFunded scans blocks for a contract-creation transaction whose
// deployment bytecode equals CompileHTLC(params). If the deployed value
// does not match params.Asset, the funding is still reported — the caller
// (the ledger state machine) is responsible for routing it to
// IncorrectlyFunded. ERC20 params are rejected with an error before any
// block is read.
func (d *AccountDetector) HtlcFunded(ctx context.Context, params HtlcParams, blocks <-chan ledger.Block) (Funded, error) {
	if params.Asset.IsPlaceholder() {
		return Funded{}, fmt.Errorf("htlc: funding detection for %s assets is not implemented", params.Asset.Kind)
	}
	wantCode := CompileHTLC(CompileParamsFrom(params))

	return retryUntil(ctx, d.log, blocks, func(b ledger.Block) (Funded, bool, error) {
		hashes, err := d.source.BlockTxHashes(ctx, b.BlockHash())
		if err != nil {
			return Funded{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
		}
		for _, txHash := range hashes {
			receipt, err := d.source.ReceiptByHash(ctx, txHash)
			if err != nil {
				return Funded{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
			}
			contractAddr, ok := receipt.ContractAddress()
			if !ok {
				continue
			}
			code, value, err := d.source.ContractCreationTx(ctx, txHash)
			if err != nil {
				return Funded{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
			}
			if !bytes.Equal(code, wantCode) {
				continue
			}
			observed := EtherAsset(value)
			return Funded{
				Asset:       observed,
				Location:    Location{ContractAddress: contractAddr},
				Transaction: txHash,
			}, true, nil
		}
		return Funded{}, false, nil
	})
}

// HtlcRedeemed scans blocks for a log at funded.Location whose first
// topic is RedeemLogTopic; the secret is the 32 bytes of log data.
func (d *AccountDetector) HtlcRedeemed(ctx context.Context, funded Funded, blocks <-chan ledger.Block) (Redeemed, error) {
	result, err := d.scanLog(ctx, funded, blocks, RedeemLogTopic.Hex())
	if err != nil {
		return Redeemed{}, err
	}
	var secret [32]byte
	copy(secret[:], result.data)
	return Redeemed{Transaction: result.txHash, Secret: secret}, nil
}

// HtlcRefunded scans blocks for a log at funded.Location whose first
// topic is RefundLogTopic.
func (d *AccountDetector) HtlcRefunded(ctx context.Context, funded Funded, blocks <-chan ledger.Block) (Refunded, error) {
	result, err := d.scanLog(ctx, funded, blocks, RefundLogTopic.Hex())
	if err != nil {
		return Refunded{}, err
	}
	return Refunded{Transaction: result.txHash}, nil
}

type logMatch struct {
	txHash string
	data   []byte
}

func (d *AccountDetector) scanLog(ctx context.Context, funded Funded, blocks <-chan ledger.Block, wantTopic string) (logMatch, error) {
	return retryUntil(ctx, d.log, blocks, func(b ledger.Block) (logMatch, bool, error) {
		hashes, err := d.source.BlockTxHashes(ctx, b.BlockHash())
		if err != nil {
			return logMatch{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
		}
		for _, txHash := range hashes {
			receipt, err := d.source.ReceiptByHash(ctx, txHash)
			if err != nil {
				return logMatch{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
			}
			for _, l := range receipt.Logs() {
				if l.Address != funded.Location.ContractAddress {
					continue
				}
				if len(l.Topics) == 0 || l.Topics[0] != wantTopic {
					continue
				}
				return logMatch{txHash: txHash, data: l.Data}, true, nil
			}
		}
		return logMatch{}, false, nil
	})
}

// CompileParamsFrom narrows an HtlcParams down to the four fields the
// bytecode compiler substitutes into the template.
func CompileParamsFrom(p HtlcParams) CompileParams {
	var redeem, refund [20]byte
	if p.RedeemIdentity.Kind == IdentityEthereum {
		copy(redeem[:], p.RedeemIdentity.Address.Bytes())
	}
	if p.RefundIdentity.Kind == IdentityEthereum {
		copy(refund[:], p.RefundIdentity.Address.Bytes())
	}
	return CompileParams{
		Expiry:        p.Expiry,
		RedeemAddress: redeem,
		RefundAddress: refund,
		SecretHash:    p.SecretHash,
	}
}

// UTXOChainSource is the slice of a UTXO ledger.Connector the Detector
// needs beyond the base Connector interface.
type UTXOChainSource interface {
	Transactions(ctx context.Context, hash ledger.BlockHash) ([]ledger.BitcoinTx, error)
}

// UTXODetector implements htlc_funded/htlc_redeemed/htlc_refunded for
// Bitcoin-family chains: a P2WSH output for funding, and witness-stack
// inspection for redeem/refund.
type UTXODetector struct {
	source UTXOChainSource
	log    *logging.Logger
}

// NewUTXODetector constructs a detector over a UTXO chain source.
func NewUTXODetector(source UTXOChainSource) *UTXODetector {
	return &UTXODetector{source: source, log: logging.GetDefault().Component("htlc-detector-utxo")}
}

// HtlcFunded scans blocks for an output whose scriptPubKey is the P2WSH
// of script. params is not consulted; the observed amount is reported
// as-is for the caller to compare.
func (d *UTXODetector) HtlcFunded(ctx context.Context, script []byte, params HtlcParams, blocks <-chan ledger.Block) (Funded, error) {
	wantScriptPubKey := P2WSHScriptPubKey(script)

	return retryUntil(ctx, d.log, blocks, func(b ledger.Block) (Funded, bool, error) {
		txs, err := d.source.Transactions(ctx, b.BlockHash())
		if err != nil {
			return Funded{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
		}
		for _, tx := range txs {
			for vout, out := range tx.Outputs {
				if !bytes.Equal(out.ScriptPubKey, wantScriptPubKey) {
					continue
				}
				observed := BitcoinAsset(int64(out.Value))
				return Funded{
					Asset:       observed,
					Location:    Location{TxID: tx.TxID, Vout: uint32(vout)},
					Transaction: tx.TxID,
				}, true, nil
			}
		}
		return Funded{}, false, nil
	})
}

// HtlcRedeemed scans blocks for a transaction spending funded.Location via
// the redeem branch: the second-to-last witness element (the one OP_IF
// pops) is non-empty; the secret is the element BuildClaimWitness places
// just above the signature.
func (d *UTXODetector) HtlcRedeemed(ctx context.Context, funded Funded, blocks <-chan ledger.Block) (Redeemed, error) {
	return retryUntil(ctx, d.log, blocks, func(b ledger.Block) (Redeemed, bool, error) {
		tx, input, ok, err := d.findSpend(ctx, b, funded)
		if err != nil {
			return Redeemed{}, false, err
		}
		if !ok || len(input.Witness) < 3 || len(input.Witness[len(input.Witness)-2]) == 0 {
			return Redeemed{}, false, nil
		}
		var secret [32]byte
		if len(input.Witness[1]) != 32 {
			return Redeemed{}, false, fmt.Errorf("%w: secret witness element is %d bytes", ErrDecoding, len(input.Witness[1]))
		}
		copy(secret[:], input.Witness[1])
		return Redeemed{Transaction: tx.TxID, Secret: secret}, true, nil
	})
}

// HtlcRefunded scans blocks for a transaction spending funded.Location via
// the refund branch: the second-to-last witness element (the one OP_IF
// pops) is empty. BuildClaimWitness and BuildRefundWitness place that
// selector at different fixed indices since their stacks differ in
// length, so the check must be relative to the end of the stack.
func (d *UTXODetector) HtlcRefunded(ctx context.Context, funded Funded, blocks <-chan ledger.Block) (Refunded, error) {
	return retryUntil(ctx, d.log, blocks, func(b ledger.Block) (Refunded, bool, error) {
		tx, input, ok, err := d.findSpend(ctx, b, funded)
		if err != nil {
			return Refunded{}, false, err
		}
		if !ok || len(input.Witness) < 3 || len(input.Witness[len(input.Witness)-2]) != 0 {
			return Refunded{}, false, nil
		}
		return Refunded{Transaction: tx.TxID}, true, nil
	})
}

func (d *UTXODetector) findSpend(ctx context.Context, b ledger.Block, funded Funded) (ledger.BitcoinTx, ledger.BitcoinTxInput, bool, error) {
	txs, err := d.source.Transactions(ctx, b.BlockHash())
	if err != nil {
		return ledger.BitcoinTx{}, ledger.BitcoinTxInput{}, false, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			if in.PrevTxID == funded.Location.TxID && in.PrevVout == funded.Location.Vout {
				return tx, in, true, nil
			}
		}
	}
	return ledger.BitcoinTx{}, ledger.BitcoinTxInput{}, false, nil
}
