package htlc

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapcore/internal/chain"
)

// AssetKind distinguishes the value types HtlcParams can carry. The set is
// closed; ERC20 is a placeholder (structure in place, no event detection).
type AssetKind string

const (
	AssetBitcoin AssetKind = "bitcoin"
	AssetEther   AssetKind = "ether"
	AssetERC20   AssetKind = "erc20"
)

// Asset is a tagged union over the supported value types. Exactly one of
// the Amount fields is meaningful, selected by Kind.
type Asset struct {
	Kind AssetKind

	// Satoshis, set when Kind == AssetBitcoin.
	Satoshis int64

	// Wei, set when Kind == AssetEther or AssetERC20.
	Wei *big.Int

	// Token is the ERC20 contract address, set when Kind == AssetERC20.
	Token common.Address
}

// BitcoinAsset constructs an Asset denominated in satoshis.
func BitcoinAsset(satoshis int64) Asset {
	return Asset{Kind: AssetBitcoin, Satoshis: satoshis}
}

// EtherAsset constructs an Asset denominated in wei.
func EtherAsset(wei *big.Int) Asset {
	return Asset{Kind: AssetEther, Wei: wei}
}

// ERC20Asset constructs a placeholder ERC20 asset. Event detection for
// this kind is not implemented; the dispatch table accepts ERC20 pairs so
// the structure exists end to end, but AccountDetector.HtlcFunded rejects
// params carrying it at runtime.
func ERC20Asset(token common.Address, wei *big.Int) Asset {
	return Asset{Kind: AssetERC20, Token: token, Wei: wei}
}

// Equal reports whether two assets carry the same kind and amount. Used to
// decide Funded versus IncorrectlyFunded.
func (a Asset) Equal(other Asset) bool {
	if a.Kind != other.Kind {
		return false
	}
	switch a.Kind {
	case AssetBitcoin:
		return a.Satoshis == other.Satoshis
	case AssetEther:
		return bigEqual(a.Wei, other.Wei)
	case AssetERC20:
		return a.Token == other.Token && bigEqual(a.Wei, other.Wei)
	default:
		return false
	}
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// IdentityKind distinguishes which ledger family an Identity was minted
// for.
type IdentityKind string

const (
	IdentityBitcoin  IdentityKind = "bitcoin"
	IdentityEthereum IdentityKind = "ethereum"
)

// Identity is a tagged union over the two identity shapes a party can
// present: a Bitcoin-family public key (for the receiver/sender pubkey in
// the HTLC script) or an Ethereum address (for the redeem/refund address
// burned into the contract bytecode).
type Identity struct {
	Kind      IdentityKind
	PublicKey *btcec.PublicKey
	Address   common.Address
}

// BitcoinIdentity wraps a public key as a Bitcoin-family identity.
func BitcoinIdentity(pub *btcec.PublicKey) Identity {
	return Identity{Kind: IdentityBitcoin, PublicKey: pub}
}

// EthereumIdentity wraps an address as an Ethereum identity.
func EthereumIdentity(addr common.Address) Identity {
	return Identity{Kind: IdentityEthereum, Address: addr}
}

// HtlcParams is the complete, immutable-once-finalized parameter set for a
// single-ledger HTLC.
type HtlcParams struct {
	Ledger         chain.Kind
	Asset          Asset
	RedeemIdentity Identity
	RefundIdentity Identity

	// Expiry's unit depends on Ledger: a Unix timestamp for account-based
	// chains, a relative block delta for UTXO chains (chain.ExpiryKindFor).
	Expiry uint32

	SecretHash [32]byte
}

// SwapKind identifies one entry of the dispatch table: a pairing of two
// ledgers and the assets each side funds.
type SwapKind struct {
	AlphaLedger chain.Kind
	BetaLedger  chain.Kind
	AlphaAsset  AssetKind
	BetaAsset   AssetKind
}

// ErrUnsupportedSwapKind is returned at swap creation when the requested
// ledger/asset tuple is not in the dispatch table.
var ErrUnsupportedSwapKind = errors.New("htlc: unsupported ledger/asset combination")

// bitcoinKinds is the Cartesian product's Bitcoin-side factor: every
// network this node will watch.
var bitcoinKinds = []chain.Kind{chain.BitcoinMainnet, chain.BitcoinTestnet, chain.BitcoinRegtest}

// supportedAssetPairs is the set of (alpha_asset, beta_asset) pairs this
// specification supports. ERC20 pairs are present so the dispatch table
// has a slot for them, but remain placeholders (see ERC20Asset).
var supportedAssetPairs = [][2]AssetKind{
	{AssetBitcoin, AssetEther},
	{AssetEther, AssetBitcoin},
	{AssetBitcoin, AssetERC20},
	{AssetERC20, AssetBitcoin},
}

var supportedSwapKinds = buildDispatchTable()

func buildDispatchTable() map[SwapKind]struct{} {
	table := make(map[SwapKind]struct{})
	for _, btc := range bitcoinKinds {
		for _, pair := range supportedAssetPairs {
			table[SwapKind{
				AlphaLedger: btc,
				BetaLedger:  chain.Ethereum,
				AlphaAsset:  pair[0],
				BetaAsset:   pair[1],
			}] = struct{}{}
			table[SwapKind{
				AlphaLedger: chain.Ethereum,
				BetaLedger:  btc,
				AlphaAsset:  pair[0],
				BetaAsset:   pair[1],
			}] = struct{}{}
		}
	}
	return table
}

// IsSupportedSwapKind reports whether the dispatch table has an entry for
// k. Tuples outside the table must be rejected at swap creation rather
// than discovered mid-negotiation.
func IsSupportedSwapKind(k SwapKind) bool {
	_, ok := supportedSwapKinds[k]
	return ok
}

// ValidateSwapKind returns ErrUnsupportedSwapKind if k is not in the
// dispatch table.
func ValidateSwapKind(k SwapKind) error {
	if !IsSupportedSwapKind(k) {
		return fmt.Errorf("%w: %+v", ErrUnsupportedSwapKind, k)
	}
	return nil
}

// IsPlaceholder reports whether a is an ERC20 asset, the variant this
// specification leaves structurally present but functionally
// unimplemented.
func (a Asset) IsPlaceholder() bool {
	return a.Kind == AssetERC20
}
