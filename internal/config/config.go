// Package config holds the static, per-ledger tuning parameters this
// node runs with. Loading it from a file or environment is out of
// scope — callers construct a Config directly or decode one themselves;
// the yaml tags exist so an external loader can do so without this
// package knowing how.
package config

import (
	"time"

	"github.com/klingon-exchange/swapcore/internal/chain"
)

// WalkerConfig tunes one ledger's Block Walker: how often to poll once
// caught up to the tip, how many confirmations to wait before treating
// an observed event as final, and how long the HTLC Event Detector will
// wait for a funding/redeem/refund event before giving up on a stage.
type WalkerConfig struct {
	// PollInterval is the Block Walker's delay between LatestBlock calls
	// once it has caught up to the chain tip.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ConfirmationBudget is the number of confirmations this ledger
	// family expects before treating an event as final against reorgs.
	ConfirmationBudget uint32 `yaml:"confirmation_budget"`

	// StageDeadline bounds how long a negotiation stage or a detector
	// scan may run before the caller treats it as a Transient failure
	// needing escalation, rather than retrying indefinitely.
	StageDeadline time.Duration `yaml:"stage_deadline"`
}

// Config aggregates the per-ledger-kind settings this node needs,
// mirroring the teacher's "ALL exchange parameters MUST be defined
// here" convention (internal/node/config.go's NetworkConfig/StorageConfig
// split) but scoped to the chain-watcher engine rather than to p2p
// transport settings.
type Config struct {
	Walkers map[chain.Kind]WalkerConfig `yaml:"walkers"`
}

// DefaultConfig returns a Config with the per-family defaults named in
// this module's ambient-stack specification: Bitcoin family polls every
// 10s with a 6-block reorg budget, Ethereum polls every 3s with a
// 12-confirmation depth.
func DefaultConfig() *Config {
	bitcoinDefault := WalkerConfig{
		PollInterval:       10 * time.Second,
		ConfirmationBudget: 6,
		StageDeadline:      time.Hour,
	}
	ethereumDefault := WalkerConfig{
		PollInterval:       3 * time.Second,
		ConfirmationBudget: 12,
		StageDeadline:      time.Hour,
	}

	return &Config{
		Walkers: map[chain.Kind]WalkerConfig{
			chain.BitcoinMainnet: bitcoinDefault,
			chain.BitcoinTestnet: bitcoinDefault,
			chain.BitcoinRegtest: bitcoinDefault,
			chain.Ethereum:       ethereumDefault,
			chain.EthereumSepolia: ethereumDefault,
		},
	}
}

// WalkerFor returns the configured WalkerConfig for k, falling back to
// k's built-in chain package defaults if the config has no explicit
// entry — a config loaded from a partial YAML file need not list every
// ledger kind this node can watch.
func (c *Config) WalkerFor(k chain.Kind) WalkerConfig {
	if cfg, ok := c.Walkers[k]; ok {
		return cfg
	}
	return WalkerConfig{
		PollInterval:       time.Duration(k.PollIntervalSeconds()) * time.Second,
		ConfirmationBudget: k.ConfirmationBudget(),
		StageDeadline:      time.Hour,
	}
}
