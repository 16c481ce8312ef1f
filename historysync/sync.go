package historysync

import (
	"context"
	"sort"

	"github.com/albatross-sync/core/consensus"
	"github.com/albatross-sync/core/hash"
	"github.com/albatross-sync/core/netp2p"
	"github.com/albatross-sync/core/policy"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"
	"golang.org/x/sync/errgroup"
)

// syncMetrics tracks the one gauge HistorySync itself owns; each
// SyncCluster reports its own queue depths via consensus.SyncQueue's
// metrics, registered alongside this one when WithMetrics is used.
type syncMetrics struct {
	clusters prometheus.Gauge
}

// Blockchain is the external collaborator HistorySync reports progress to:
// it names the current election head to anchor new peers' epoch-id
// responses, and accepts fully-downloaded epochs for application.
type Blockchain interface {
	ElectionHead() (headHash hash.Hash, epochNumber uint32)
	PushHistorySync(epoch Epoch) error
}

// EpochIDs is one peer's answer to "what election-block ids do you have
// past my election head", tagged with the peer that sent it so it can be
// added to whichever cluster ends up claiming it.
type EpochIDs[P AgentPeer] struct {
	IDs    []hash.Hash
	Offset int
	Sender consensus.PeerHandle[P]
}

// HistorySync clusters peers by agreement on epoch-id sequences and drains
// the best cluster first, pushing completed epochs to the Blockchain,
// grounded on history.rs's HistorySync.
type HistorySync[P AgentPeer] struct {
	blockchain Blockchain

	peerJoined chan consensus.PeerHandle[P]
	epochIDs   chan *EpochIDs[P]

	syncClusters []*SyncCluster[P]

	ctx    context.Context
	cancel context.CancelFunc

	metricsRegistry *prometheus.Registry
	metrics         *syncMetrics
}

// NewHistorySync constructs a HistorySync against blockchain. Call
// PeerJoined as new peers are discovered, and Run to drive it.
func NewHistorySync[P AgentPeer](ctx context.Context, blockchain Blockchain) *HistorySync[P] {
	cctx, cancel := context.WithCancel(ctx)
	hs := &HistorySync[P]{
		blockchain: blockchain,
		peerJoined: make(chan consensus.PeerHandle[P], policy.ConcurrentHashRequests),
		epochIDs:   make(chan *EpochIDs[P], policy.ConcurrentHashRequests),
		ctx:        cctx,
		cancel:     cancel,
	}
	return hs
}

// WithMetrics registers a cluster-count gauge against registry and hands
// registry to every SyncCluster this HistorySync creates from then on, so
// their queue depth gauges register too. A nil registry is a no-op.
func (hs *HistorySync[P]) WithMetrics(registry *prometheus.Registry) *HistorySync[P] {
	if registry == nil {
		return hs
	}
	hs.metricsRegistry = registry
	hs.metrics = &syncMetrics{
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "albatross",
			Subsystem: "history_sync",
			Name:      "clusters",
			Help:      "Current number of active sync clusters.",
		}),
	}
	registry.MustRegister(hs.metrics.clusters)
	return hs
}

func (hs *HistorySync[P]) reportMetrics() {
	if hs.metrics == nil {
		return
	}
	hs.metrics.clusters.Set(float64(len(hs.syncClusters)))
}

// PeerJoined notifies HistorySync of a newly connected peer, to be probed
// for epoch ids. Non-blocking up to the channel's buffer; callers should
// select on ctx.Done() alongside this send if backpressure matters.
func (hs *HistorySync[P]) PeerJoined(p consensus.PeerHandle[P]) {
	select {
	case hs.peerJoined <- p:
	case <-hs.ctx.Done():
	}
}

// Close stops the background discovery workers and driver loop.
func (hs *HistorySync[P]) Close() {
	hs.cancel()
}

// runDiscovery requests epoch ids from each joined peer with bounded
// concurrency (policy.ConcurrentHashRequests in flight at once), forwarding
// successful responses to epochIDs. Grounded on the reference's
// buffer_unordered(CONCURRENT_HASH_REQUESTS) pipeline stage.
func (hs *HistorySync[P]) runDiscovery() {
	defer close(hs.epochIDs)

	g, ctx := errgroup.WithContext(hs.ctx)
	g.SetLimit(policy.ConcurrentHashRequests)

	for {
		select {
		case peer, ok := <-hs.peerJoined:
			if !ok {
				_ = g.Wait()
				return
			}
			g.Go(func() error {
				ids, ok := hs.requestEpochIDs(ctx, peer)
				if ok {
					select {
					case hs.epochIDs <- ids:
					case <-hs.ctx.Done():
					}
				}
				return nil
			})
		case <-hs.ctx.Done():
			_ = g.Wait()
			return
		}
	}
}

func (hs *HistorySync[P]) requestEpochIDs(ctx context.Context, peer consensus.PeerHandle[P]) (*EpochIDs[P], bool) {
	p, ok := peer.Upgrade()
	if !ok {
		return nil, false
	}
	headHash, epochNumber := hs.blockchain.ElectionHead()
	resp, err := p.RequestBlockHashes(ctx, []hash.Hash{headHash}, uint16(policy.MaxHashes), netp2p.FilterElectionOnly)
	if err != nil {
		return nil, false
	}
	ids := make([]hash.Hash, len(resp.Hashes))
	for i, pair := range resp.Hashes {
		ids[i] = pair.Hash
	}
	return &EpochIDs[P]{IDs: ids, Offset: int(epochNumber) + 1, Sender: peer}, true
}

// clusterEpochIds matches ids against every existing cluster's overlapping
// id range, splitting clusters at the first mismatch, adding the sender to
// every cluster it fully or partially matches, and placing any unmatched
// tail ids into a brand-new single-peer cluster — ported directly from
// history.rs's cluster_epoch_ids.
func (hs *HistorySync[P]) clusterEpochIds(ids *EpochIDs[P]) {
	idIndex := 0
	var newClusters []*SyncCluster[P]

	for _, cluster := range hs.syncClusters {
		if !(cluster.EpochOffset <= ids.Offset && cluster.EpochOffset+len(cluster.EpochIDs) > ids.Offset) {
			continue
		}

		startOffset := ids.Offset - cluster.EpochOffset
		length := min(len(cluster.EpochIDs)-startOffset, len(ids.IDs)-idIndex)

		matchUntil := length
		for i := 0; i < length; i++ {
			if cluster.EpochIDs[startOffset+i] != ids.IDs[idIndex+i] {
				matchUntil = i
				break
			}
		}

		if matchUntil > 0 {
			if matchUntil < length {
				newClusters = append(newClusters, cluster.splitOff(startOffset+matchUntil))
			}
			cluster.AddPeer(ids.Sender)
			idIndex += matchUntil
		}
	}

	if idIndex < len(ids.IDs) {
		newCluster := NewSyncCluster[P](hs.ctx, ids.IDs[idIndex:], ids.Offset+idIndex, []consensus.PeerHandle[P]{ids.Sender}).WithMetrics(hs.metricsRegistry)
		newClusters = append(newClusters, newCluster)
	}

	hs.syncClusters = append(hs.syncClusters, newClusters...)
	sort.Slice(hs.syncClusters, func(i, j int) bool { return less(hs.syncClusters[i], hs.syncClusters[j]) })
	hs.reportMetrics()
}

// Run drives HistorySync until ctx is cancelled: it ingests epoch-id
// reports (capping the cluster count at policy.MaxClusters to bound memory
// under a flood of disagreeing peers) and, concurrently, drains whichever
// cluster is currently best (last in sort order), pushing completed
// epochs to the Blockchain and evicting clusters that error out or finish.
func (hs *HistorySync[P]) Run() {
	go hs.runDiscovery()

	for {
		var bestOut <-chan ClusterResult
		if len(hs.syncClusters) > 0 {
			bestOut = hs.syncClusters[len(hs.syncClusters)-1].Out()
		}

		select {
		case ids, ok := <-hs.epochIDs:
			if !ok {
				return
			}
			if len(hs.syncClusters) < policy.MaxClusters {
				hs.clusterEpochIds(ids)
			} else {
				log.Warn("dropping epoch ids, cluster limit reached", "max_clusters", policy.MaxClusters)
			}

		case result, ok := <-bestOut:
			best := hs.syncClusters[len(hs.syncClusters)-1]
			if !ok || result.Err {
				best.Close()
				hs.syncClusters = hs.syncClusters[:len(hs.syncClusters)-1]
				hs.reportMetrics()
				continue
			}
			if err := hs.blockchain.PushHistorySync(result.Epoch); err != nil {
				log.Error("failed to push synced epoch", "err", err)
				best.Close()
				hs.syncClusters = hs.syncClusters[:len(hs.syncClusters)-1]
				hs.reportMetrics()
			}

		case <-hs.ctx.Done():
			return
		}
	}
}

func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
