// Package historysync implements multi-peer epoch-history discovery and
// download: peers are clustered by how far their reported epoch-id
// sequences agree, and the best-covered, best-peered cluster is drained
// first, grounded on consensus-albatross/src/sync/history.rs.
package historysync

import (
	"context"
	"fmt"

	"github.com/albatross-sync/core/consensus"
	"github.com/albatross-sync/core/hash"
	"github.com/albatross-sync/core/netp2p"
	"github.com/albatross-sync/core/policy"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
)

// AgentPeer is the subset of consensus.Agent's behavior historysync needs:
// a stable identity, the two request operations a SyncCluster's internal
// queues drive, and RequestBlockHashes, which HistorySync uses to learn a
// peer's epoch ids.
type AgentPeer interface {
	netp2p.Peer
	RequestBlockHashes(ctx context.Context, locators []hash.Hash, maxBlocks uint16, filter netp2p.BlockHashesFilter) (*netp2p.BlockHashes, error)
	RequestEpoch(ctx context.Context, epochHash hash.Hash) (*netp2p.EpochInfo, error)
	RequestHistoryChunk(ctx context.Context, epochNumber uint32, chunkIndex uint64) (*netp2p.HistoryChunk, error)
}

// PendingEpoch accumulates history chunks for one epoch until its
// HistoryLen is reached.
type PendingEpoch struct {
	Block      netp2p.MacroBlock
	HistoryLen int
	History    []netp2p.ExtendedTransaction
}

func (p *PendingEpoch) isComplete() bool { return p.HistoryLen == len(p.History) }

func (p *PendingEpoch) epochNumber() uint32 { return policy.EpochAt(p.Block.BlockNumber) }

// Epoch is one fully downloaded epoch, ready to push onto the chain.
type Epoch struct {
	Block   netp2p.MacroBlock
	History []netp2p.ExtendedTransaction
}

// ClusterResult is one item yielded by a SyncCluster: a completed Epoch, or
// Err signaling the cluster could not make progress and should be evicted.
type ClusterResult struct {
	Epoch Epoch
	Err   bool
}

type chunkID struct {
	EpochNumber uint32
	ChunkIndex  uint64
}

type chunkResult struct {
	EpochNumber uint32
	Chunk       *netp2p.HistoryTreeChunk
}

// SyncCluster groups peers that agree on a contiguous run of epoch ids and
// downloads that run's epochs one at a time, in order.
type SyncCluster[P AgentPeer] struct {
	EpochIDs    []hash.Hash
	EpochOffset int

	epochQueue   *consensus.SyncQueue[P, hash.Hash, *netp2p.EpochInfo]
	historyQueue *consensus.SyncQueue[P, chunkID, chunkResult]

	pendingEpochs []*PendingEpoch

	out    chan ClusterResult
	ctx    context.Context
	cancel context.CancelFunc

	metricsRegistry *prometheus.Registry
}

// NewSyncCluster constructs a cluster for epochIDs (starting at
// epochOffset) backed by peers, and starts its internal driver goroutine.
func NewSyncCluster[P AgentPeer](ctx context.Context, epochIDs []hash.Hash, epochOffset int, peers []consensus.PeerHandle[P]) *SyncCluster[P] {
	cctx, cancel := context.WithCancel(ctx)

	requestEpoch := consensus.RequestFn[P, hash.Hash, *netp2p.EpochInfo](func(ctx context.Context, id hash.Hash, p P) (*netp2p.EpochInfo, bool) {
		info, err := p.RequestEpoch(ctx, id)
		if err != nil {
			return nil, false
		}
		return info, true
	})
	requestHistoryChunk := consensus.RequestFn[P, chunkID, chunkResult](func(ctx context.Context, id chunkID, p P) (chunkResult, bool) {
		chunk, err := p.RequestHistoryChunk(ctx, id.EpochNumber, id.ChunkIndex)
		if err != nil {
			return chunkResult{}, false
		}
		return chunkResult{EpochNumber: id.EpochNumber, Chunk: chunk.Chunk}, true
	})

	c := &SyncCluster[P]{
		EpochIDs:     append([]hash.Hash(nil), epochIDs...),
		EpochOffset:  epochOffset,
		epochQueue:   consensus.New[P, hash.Hash, *netp2p.EpochInfo](cctx, epochIDs, peers, policy.NumPendingEpochs, requestEpoch),
		historyQueue: consensus.New[P, chunkID, chunkResult](cctx, nil, peers, policy.NumPendingChunks, requestHistoryChunk),
		out:          make(chan ClusterResult),
		ctx:          cctx,
		cancel:       cancel,
	}
	go c.run()
	return c
}

// Out yields completed epochs in order, or a single Err result once the
// cluster can no longer make progress, after which it closes.
func (c *SyncCluster[P]) Out() <-chan ClusterResult { return c.out }

// Close stops the cluster's queues and driver goroutine.
func (c *SyncCluster[P]) Close() {
	c.cancel()
	c.epochQueue.Close()
	c.historyQueue.Close()
}

// NumPeers reports the cluster's current peer-set size (peers are shared
// between the two internal queues, so either suffices).
func (c *SyncCluster[P]) NumPeers() int { return c.epochQueue.NumPeers() }

// WithMetrics registers this cluster's epoch and history-chunk queue
// gauges against registry, labeled by the cluster's own identity so
// concurrently running clusters never collide, and returns c for chaining.
// A nil registry is a no-op. Clusters produced later by splitOff inherit
// the same registry automatically.
func (c *SyncCluster[P]) WithMetrics(registry *prometheus.Registry) *SyncCluster[P] {
	if registry == nil {
		return c
	}
	c.metricsRegistry = registry
	label := fmt.Sprintf("%p", c)
	c.epochQueue.WithMetrics(registry, label+"_epoch")
	c.historyQueue.WithMetrics(registry, label+"_history_chunk")
	return c
}

func (c *SyncCluster[P]) onEpochReceived(info *netp2p.EpochInfo) {
	epochNumber := policy.EpochAt(info.Block.BlockNumber)
	numChunks := int(info.HistoryLen) / policy.ChunkSize
	ids := make([]chunkID, numChunks)
	for i := range ids {
		ids[i] = chunkID{EpochNumber: epochNumber, ChunkIndex: uint64(i)}
	}
	c.historyQueue.AddIDs(ids)
	c.pendingEpochs = append(c.pendingEpochs, &PendingEpoch{
		Block:      info.Block,
		HistoryLen: int(info.HistoryLen),
	})
}

func (c *SyncCluster[P]) onHistoryChunkReceived(res chunkResult) error {
	if len(c.pendingEpochs) == 0 {
		return fmt.Errorf("received history chunk for epoch %d with no pending epoch", res.EpochNumber)
	}
	firstEpochNumber := c.pendingEpochs[0].epochNumber()
	idx := int(res.EpochNumber) - int(firstEpochNumber)
	if idx < 0 || idx >= len(c.pendingEpochs) {
		return fmt.Errorf("history chunk for epoch %d out of pending range [%d, %d)", res.EpochNumber, firstEpochNumber, int(firstEpochNumber)+len(c.pendingEpochs))
	}
	if res.Chunk == nil {
		return fmt.Errorf("history chunk missing for epoch %d", res.EpochNumber)
	}
	epoch := c.pendingEpochs[idx]
	epoch.History = append(epoch.History, res.Chunk.History...)
	return nil
}

// AddPeer registers a newly discovered peer with both internal queues.
func (c *SyncCluster[P]) AddPeer(p consensus.PeerHandle[P]) {
	c.epochQueue.AddPeer(p)
	c.historyQueue.AddPeer(p)
}

// splitOff removes the epoch ids starting at index at (in the cluster's
// own id space) into a brand-new sibling cluster sharing this cluster's
// peer set, truncating this cluster's queue to match.
func (c *SyncCluster[P]) splitOff(at int) *SyncCluster[P] {
	ids := append([]hash.Hash(nil), c.EpochIDs[at:]...)
	offset := c.EpochOffset + at
	c.EpochIDs = c.EpochIDs[:at]

	c.epochQueue.TruncateIDs(at)

	return NewSyncCluster[P](c.ctx, ids, offset, c.epochQueue.PeerHandles()).WithMetrics(c.metricsRegistry)
}

func (c *SyncCluster[P]) emit(result ClusterResult) bool {
	select {
	case c.out <- result:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// drainCompletedEpochs emits every already-complete epoch sitting at the
// front of pendingEpochs, in order. An epoch with HistoryLen 0 completes the
// moment it is received, with no history chunk ever arriving to trigger the
// check, so this runs after both onEpochReceived and onHistoryChunkReceived.
func (c *SyncCluster[P]) drainCompletedEpochs() bool {
	for len(c.pendingEpochs) > 0 && c.pendingEpochs[0].isComplete() {
		pe := c.pendingEpochs[0]
		c.pendingEpochs = c.pendingEpochs[1:]
		if !c.emit(ClusterResult{Epoch: Epoch{Block: pe.Block, History: pe.History}}) {
			return false
		}
	}
	return true
}

func (c *SyncCluster[P]) run() {
	defer close(c.out)
	for {
		var epochCh <-chan consensus.Result[hash.Hash, *netp2p.EpochInfo]
		if len(c.pendingEpochs) < policy.NumPendingEpochs {
			epochCh = c.epochQueue.Out()
		}

		select {
		case r := <-epochCh:
			if r.Err {
				log.Warn("epoch request exhausted all peers", "epoch_hash", r.ID)
				c.emit(ClusterResult{Err: true})
				return
			}
			c.onEpochReceived(r.Output)
			if !c.drainCompletedEpochs() {
				return
			}

		case r := <-c.historyQueue.Out():
			if r.Err {
				log.Warn("history chunk request exhausted all peers")
				c.emit(ClusterResult{Err: true})
				return
			}
			if err := c.onHistoryChunkReceived(r.Output); err != nil {
				log.Error("failed to process history chunk", "err", err)
				c.emit(ClusterResult{Err: true})
				return
			}
			if !c.drainCompletedEpochs() {
				return
			}

		case <-c.ctx.Done():
			return
		}

		if c.epochQueue.Drained() && len(c.pendingEpochs) == 0 {
			return
		}
	}
}

// less implements the "best cluster sorts last" comparator from
// history.rs's Ord impl: lower offset first, then higher peer count, then
// more ids, then lexicographically smaller id vector — all reversed, so
// sorting ascending with this comparator puts the best cluster at the end.
func less[P AgentPeer](a, b *SyncCluster[P]) bool {
	if a.EpochOffset != b.EpochOffset {
		return a.EpochOffset > b.EpochOffset
	}
	an, bn := a.NumPeers(), b.NumPeers()
	if an != bn {
		return an < bn
	}
	if len(a.EpochIDs) != len(b.EpochIDs) {
		return len(a.EpochIDs) < len(b.EpochIDs)
	}
	return hash.CompareSlices(a.EpochIDs, b.EpochIDs) > 0
}
