// Package chain identifies the ledgers a swap can run on and the expiry
// semantics each ledger family uses for its HTLC timelock.
package chain

import "fmt"

// Network distinguishes production chains from their test networks.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Family is the ledger's underlying transaction model.
type Family string

const (
	FamilyBitcoin Family = "bitcoin" // UTXO, P2WSH HTLC, relative-block expiry
	FamilyEVM     Family = "evm"     // account-based, contract HTLC, Unix-timestamp expiry
)

// Kind identifies a ledger. The dispatch table in internal/htlc/params.go
// pairs Bitcoin on {Mainnet, Testnet, Regtest} with Ethereum;
// EthereumSepolia is declared here but has no entry in that table.
type Kind struct {
	Family  Family
	Network Network
}

var (
	BitcoinMainnet  = Kind{Family: FamilyBitcoin, Network: Mainnet}
	BitcoinTestnet  = Kind{Family: FamilyBitcoin, Network: Testnet}
	BitcoinRegtest  = Kind{Family: FamilyBitcoin, Network: Regtest}
	Ethereum        = Kind{Family: FamilyEVM, Network: Mainnet}
	EthereumSepolia = Kind{Family: FamilyEVM, Network: Testnet}
)

func (k Kind) String() string {
	return fmt.Sprintf("%s-%s", k.Family, k.Network)
}

// IsUTXO reports whether this ledger funds an HTLC via a P2WSH output
// rather than a deployed contract.
func (k Kind) IsUTXO() bool {
	return k.Family == FamilyBitcoin
}

// IsAccountBased reports whether this ledger funds an HTLC via contract
// creation rather than a UTXO.
func (k Kind) IsAccountBased() bool {
	return k.Family == FamilyEVM
}

// ExpiryKind is the unit an HtlcParams.Expiry value is expressed in,
// which depends on the ledger it governs.
type ExpiryKind string

const (
	// ExpiryUnixTimestamp is used by account-based chains: the HTLC is
	// refundable once the chain's block time passes this Unix second.
	ExpiryUnixTimestamp ExpiryKind = "unix-timestamp"

	// ExpiryRelativeBlockDelta is used by UTXO chains: the HTLC is
	// refundable a fixed number of confirmations after it was funded
	// (BIP68 relative locktime / OP_CHECKSEQUENCEVERIFY).
	ExpiryRelativeBlockDelta ExpiryKind = "relative-block-delta"

	// ExpiryCLTVHeight is used by payment-channel ledgers: the HTLC is
	// refundable once the chain reaches this absolute block height.
	ExpiryCLTVHeight ExpiryKind = "cltv-height"
)

// ExpiryKindFor returns the expiry semantics a ledger kind uses.
func ExpiryKindFor(k Kind) ExpiryKind {
	if k.IsAccountBased() {
		return ExpiryUnixTimestamp
	}
	return ExpiryRelativeBlockDelta
}

var pollDefaults = map[Family]struct {
	seconds int
	confs   uint32
}{
	FamilyBitcoin: {seconds: 10, confs: 1},
	FamilyEVM:     {seconds: 3, confs: 12},
}

// PollIntervalSeconds returns the Block Walker's polling delay for this
// ledger family when no new tip has appeared since the last check.
func (k Kind) PollIntervalSeconds() int {
	return pollDefaults[k.Family].seconds
}

// ConfirmationBudget returns the confirmation count this ledger family
// expects before treating an event as final against reorgs.
func (k Kind) ConfirmationBudget() uint32 {
	return pollDefaults[k.Family].confs
}
