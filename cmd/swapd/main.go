// Command swapd wires the coordination engine's pieces — configuration,
// the in-process registries, the negotiation transport, and the ledger
// watchers — into a running node. It is a thin entrypoint: all of the
// actual swap logic lives in the internal packages it constructs.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/internal/config"
	"github.com/klingon-exchange/swapcore/internal/coordinator"
	"github.com/klingon-exchange/swapcore/internal/htlc"
	"github.com/klingon-exchange/swapcore/internal/ledger"
	"github.com/klingon-exchange/swapcore/internal/negotiation"
	"github.com/klingon-exchange/swapcore/internal/registry"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/watcher"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

var version = "0.1.0-dev"

func main() {
	var (
		listenAddr  = flag.String("listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
		ethereumRPC = flag.String("ethereum-rpc", "", "Ethereum JSON-RPC endpoint used to watch the ether/ERC20 side of a swap")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("swapd %s\n", version)
		os.Exit(0)
	}

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	cfg := config.DefaultConfig()
	reg := registry.New()

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		log.Fatal("failed to generate node identity", "error", err)
	}
	addr, err := multiaddr.NewMultiaddr(*listenAddr)
	if err != nil {
		log.Fatal("invalid listen address", "addr", *listenAddr, "error", err)
	}

	host, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(addr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		log.Fatal("failed to start libp2p host", "error", err)
	}
	defer host.Close()

	// Negotiator registers its five stage handlers on host as a side
	// effect of construction; nothing here calls it directly, a future
	// RPC or CLI layer would use it to Propose/WaitForAnnouncement.
	_ = negotiation.New(negotiation.NewTransport(host), reg)

	var ethConn *ledger.EthereumConnector
	if *ethereumRPC != "" {
		client, err := ethclient.Dial(*ethereumRPC)
		if err != nil {
			log.Fatal("failed to dial ethereum RPC", "endpoint", *ethereumRPC, "error", err)
		}
		ethConn = ledger.NewEthereumConnector(client)
		log.Info("ethereum watcher configured", "endpoint", *ethereumRPC)
	} else {
		log.Warn("no -ethereum-rpc given; the ethereum side of any swap started on this node cannot be watched")
	}

	host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			log.Info("peer connected", "peer", shortID(c.RemotePeer()))
		},
	})

	log.Info("swapd started", "peer_id", host.ID().String())
	for _, a := range host.Addrs() {
		log.Info("listening", "addr", fmt.Sprintf("%s/p2p/%s", a, host.ID()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go logStatus(ctx, log, cfg, ethConn != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
}

// logStatus periodically reports the node's watcher configuration and
// readiness, mirroring the teacher's main.go status ticker.
func logStatus(ctx context.Context, log *logging.Logger, cfg *config.Config, ethereumReady bool) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("status",
				"ethereum_watcher_ready", ethereumReady,
				"ethereum_poll_interval", cfg.WalkerFor(chain.Ethereum).PollInterval,
				"bitcoin_poll_interval", cfg.WalkerFor(chain.BitcoinMainnet).PollInterval,
			)
		}
	}
}

// watchEthereumSide starts the ethereum-side watcher for a swap whose
// negotiation has already finalized, publishing SwapEvents as the HTLC
// funds, redeems, or refunds. The caller (an RPC handler in the rest of
// a full node, not wired here) invokes this once finalize completes on
// both stages.
func watchEthereumSide(
	ctx context.Context,
	ethConn *ledger.EthereumConnector,
	cfg *config.Config,
	id swap.SwapId,
	params htlc.HtlcParams,
	startOfSwap time.Time,
	reg *registry.Registry,
	events chan<- coordinator.SwapEvent,
) error {
	w := watcher.New(ethConn, startOfSwap, cfg.WalkerFor(chain.Ethereum).PollInterval)
	detector := coordinator.AccountAdapter{Detector: htlc.NewAccountDetector(ethConn), Params: params}
	return coordinator.RunLedgerWatcher(ctx, id, registry.Alpha, params, detector, w, reg, events)
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
