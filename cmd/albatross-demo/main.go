// Command albatross-demo wires a libp2p host, the consensus request/
// response protocols, history sync and the mempool together into one
// runnable node. It exists to exercise the module's wiring end to end,
// not as a production entrypoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/albatross-sync/core/consensus"
	"github.com/albatross-sync/core/historysync"
	"github.com/albatross-sync/core/mempool"
	"github.com/albatross-sync/core/netp2p"
	"github.com/ethereum/go-ethereum/log"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	networkID := flag.String("network", "devnet", "network identifier used in protocol IDs and the transaction topic")
	verbosity := flag.String("log-level", "info", "log verbosity (trace|debug|info|warn|error)")
	flag.Parse()

	setupLogger(*verbosity)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h, err := libp2p.New()
	if err != nil {
		log.Crit("failed to start libp2p host", "err", err)
	}
	defer h.Close()

	codec := netp2p.GobCodec{}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		log.Crit("failed to start pubsub", "err", err)
	}

	registerServer(h, codec, *networkID)

	bc := newDemoBlockchain()
	mp := mempool.New(bc, mempool.DefaultMempoolRules())
	prometheus.DefaultRegisterer.MustRegister(mp.Collectors()...)

	txTopic, err := netp2p.NewPubSubTopic[*mempool.Transaction](ctx, ps, mempool.TransactionTopic+"/"+*networkID, 1024, codec)
	if err != nil {
		log.Crit("failed to join transaction topic", "err", err)
	}
	if err := mp.StartExecutor(ctx, txTopic); err != nil {
		log.Crit("failed to start mempool executor", "err", err)
	}
	defer mp.StopExecutor()

	syncMetrics := prometheus.NewRegistry()
	hs := historysync.NewHistorySync[*consensus.Agent](ctx, bc).WithMetrics(syncMetrics)
	go hs.Run()

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			remote := conn.RemotePeer()
			agent := consensus.NewAgent(remote, *networkID, h.NewStream, codec)
			hs.PeerJoined(consensus.PeerHandle[*consensus.Agent]{
				PeerID: remote,
				Upgrade: func() (*consensus.Agent, bool) {
					if h.Network().Connectedness(remote) != network.Connected {
						return nil, false
					}
					return agent, true
				},
			})
		},
	})

	log.Info("node started", "peer_id", h.ID(), "addrs", h.Addrs())
	<-ctx.Done()
	log.Info("shutting down")
}

func setupLogger(level string) {
	lvl := log.LvlInfo
	if parsed, err := log.LvlFromString(level); err == nil {
		lvl = parsed
	}
	handler := log.NewGlogHandler(log.StreamHandler(os.Stderr, log.TerminalFormat(true)))
	handler.Verbosity(lvl)
	log.Root().SetHandler(handler)
}

func registerServer(h host.Host, codec netp2p.Codec, networkID string) {
	srv := netp2p.NewRequestResponseServer(codec)

	h.SetStreamHandler(netp2p.RequestBlockHashesProtocolID(networkID), func(s network.Stream) {
		srv.Handle(context.Background(), s, func() any { return new(netp2p.RequestBlockHashes) }, func(ctx context.Context, p peer.ID, req any) (any, error) {
			return &netp2p.BlockHashes{RequestIdentifier: req.(*netp2p.RequestBlockHashes).RequestIdentifier}, nil
		})
	})
	h.SetStreamHandler(netp2p.RequestEpochProtocolID(networkID), func(s network.Stream) {
		srv.Handle(context.Background(), s, func() any { return new(netp2p.RequestEpoch) }, func(ctx context.Context, p peer.ID, req any) (any, error) {
			return &netp2p.EpochInfo{RequestIdentifier: req.(*netp2p.RequestEpoch).RequestIdentifier}, nil
		})
	})
	h.SetStreamHandler(netp2p.RequestHistoryChunkProtocolID(networkID), func(s network.Stream) {
		srv.Handle(context.Background(), s, func() any { return new(netp2p.RequestHistoryChunk) }, func(ctx context.Context, p peer.ID, req any) (any, error) {
			return &netp2p.HistoryChunk{RequestIdentifier: req.(*netp2p.RequestHistoryChunk).RequestIdentifier}, nil
		})
	})
}
