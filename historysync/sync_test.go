package historysync

import (
	"context"
	"testing"
	"time"

	"github.com/albatross-sync/core/hash"
	"github.com/albatross-sync/core/netp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

// fakeBlockchain is an in-memory historysync.Blockchain collaborator for
// tests: records every epoch pushed to it.
type fakeBlockchain struct {
	headHash    hash.Hash
	epochNumber uint32
	pushed      []Epoch
	pushErr     error
}

func (b *fakeBlockchain) ElectionHead() (hash.Hash, uint32) { return b.headHash, b.epochNumber }
func (b *fakeBlockchain) PushHistorySync(epoch Epoch) error {
	if b.pushErr != nil {
		return b.pushErr
	}
	b.pushed = append(b.pushed, epoch)
	return nil
}

func TestClusterEpochIdsCreatesSingleClusterOnFirstReport(t *testing.T) {
	bc := &fakeBlockchain{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := NewHistorySync[*fakeAgent](ctx, bc)
	defer hs.Close()

	agent := &fakeAgent{id: peer.ID("p1")}
	ids := &EpochIDs[*fakeAgent]{
		IDs:    []hash.Hash{mkHash(1), mkHash(2)},
		Offset: 5,
		Sender: agentHandle(agent),
	}

	hs.clusterEpochIds(ids)
	require.Len(t, hs.syncClusters, 1)
	require.Equal(t, ids.IDs, hs.syncClusters[0].EpochIDs)
	require.Equal(t, 5, hs.syncClusters[0].EpochOffset)
	require.Equal(t, 1, hs.syncClusters[0].NumPeers())
}

func TestClusterEpochIdsMergesAgreeingPeer(t *testing.T) {
	bc := &fakeBlockchain{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := NewHistorySync[*fakeAgent](ctx, bc)
	defer hs.Close()

	shared := []hash.Hash{mkHash(1), mkHash(2)}
	a1 := &fakeAgent{id: peer.ID("p1")}
	a2 := &fakeAgent{id: peer.ID("p2")}

	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{IDs: shared, Offset: 0, Sender: agentHandle(a1)})
	require.Len(t, hs.syncClusters, 1)

	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{IDs: shared, Offset: 0, Sender: agentHandle(a2)})
	require.Len(t, hs.syncClusters, 1, "a fully agreeing peer should join the existing cluster, not create a new one")
	require.Equal(t, 2, hs.syncClusters[0].NumPeers())
}

func TestClusterEpochIdsSplitsOnDisagreement(t *testing.T) {
	bc := &fakeBlockchain{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := NewHistorySync[*fakeAgent](ctx, bc)
	defer hs.Close()

	a1 := &fakeAgent{id: peer.ID("p1")}
	a2 := &fakeAgent{id: peer.ID("p2")}

	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{
		IDs:    []hash.Hash{mkHash(1), mkHash(2), mkHash(3)},
		Offset: 0,
		Sender: agentHandle(a1),
	})

	// a2 agrees on id[0] but diverges at id[1].
	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{
		IDs:    []hash.Hash{mkHash(1), mkHash(99)},
		Offset: 0,
		Sender: agentHandle(a2),
	})

	// a2's divergence at id[1] splits a1's cluster into the matched prefix
	// (h1, now shared by both peers) and an orphaned suffix (h2,h3, still
	// only a1's), and opens a third cluster for a2's own unmatched tail
	// (h99) — three clusters in total.
	require.Len(t, hs.syncClusters, 3, "a disagreeing peer should split the original cluster and open its own")

	var total int
	for _, c := range hs.syncClusters {
		total += len(c.EpochIDs)
	}
	require.Equal(t, 3+1, total, "split must not drop or duplicate ids: original 3 plus a2's one divergent id")

	for _, c := range hs.syncClusters {
		c.Close()
	}
}

func TestHistorySyncRunPushesCompletedEpochs(t *testing.T) {
	bc := &fakeBlockchain{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := NewHistorySync[*fakeAgent](ctx, bc)
	go hs.Run()
	defer hs.Close()

	epochHash := mkHash(7)
	agent := &fakeAgent{
		id: peer.ID("p1"),
		epochs: map[hash.Hash]*netp2p.EpochInfo{
			epochHash: {Block: netp2p.MacroBlock{BlockNumber: 0}, HistoryLen: 0},
		},
		chunks: map[uint32]map[uint64]*netp2p.HistoryTreeChunk{},
	}

	hs.epochIDs <- &EpochIDs[*fakeAgent]{IDs: []hash.Hash{epochHash}, Offset: 0, Sender: agentHandle(agent)}

	require.Eventually(t, func() bool {
		return len(bc.pushed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, uint32(0), bc.pushed[0].Block.BlockNumber)
}

func TestClusterEpochIdsSortsBestClusterLast(t *testing.T) {
	bc := &fakeBlockchain{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := NewHistorySync[*fakeAgent](ctx, bc)
	defer hs.Close()

	behind := &fakeAgent{id: peer.ID("behind")}
	caughtUp := &fakeAgent{id: peer.ID("caught-up")}

	// Disjoint offsets (0 and 10) guarantee no overlap, so each report
	// creates its own cluster rather than merging.
	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{IDs: []hash.Hash{mkHash(1)}, Offset: 10, Sender: agentHandle(behind)})
	hs.clusterEpochIds(&EpochIDs[*fakeAgent]{IDs: []hash.Hash{mkHash(2)}, Offset: 0, Sender: agentHandle(caughtUp)})

	require.Len(t, hs.syncClusters, 2)
	best := hs.syncClusters[len(hs.syncClusters)-1]
	require.Equal(t, 0, best.EpochOffset, "the cluster with the lowest offset (least behind) should sort last")

	for _, c := range hs.syncClusters {
		c.Close()
	}
}
