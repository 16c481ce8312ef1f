// Package consensus provides the per-peer request helpers (ConsensusAgent)
// and the generic ordered, retrying request pipeline (SyncQueue) that
// higher-level sync code is built from.
package consensus

import (
	"context"
	"fmt"

	"github.com/albatross-sync/core/hash"
	"github.com/albatross-sync/core/netp2p"
	"github.com/albatross-sync/core/policy"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Agent wraps a single peer and exposes the three request/response
// operations named in §4.1, each returning (nil, err) on any transport,
// timeout or decode failure — the uniform "failed, retryable" signal
// SyncQueue interprets as None.
type Agent struct {
	PeerID    peer.ID
	NetworkID string

	NewStream netp2p.NewStreamFn
	Codec     netp2p.Codec
}

// NewAgent constructs a ConsensusAgent for one peer.
func NewAgent(peerID peer.ID, networkID string, newStream netp2p.NewStreamFn, codec netp2p.Codec) *Agent {
	return &Agent{PeerID: peerID, NetworkID: networkID, NewStream: newStream, Codec: codec}
}

// ID satisfies netp2p.Peer.
func (a *Agent) ID() peer.ID { return a.PeerID }

// RequestBlockHashes implements §4.1's request_block_hashes. locators must
// not exceed policy.MaxLocators and maxBlocks must not exceed
// policy.MaxBlockHashesPerRequest; both are enforced defensively here since
// a caller bug here would otherwise manifest as a silently rejected
// request on the wire.
func (a *Agent) RequestBlockHashes(ctx context.Context, locators []hash.Hash, maxBlocks uint16, filter netp2p.BlockHashesFilter) (*netp2p.BlockHashes, error) {
	if len(locators) > policy.MaxLocators {
		return nil, fmt.Errorf("too many locators: %d > %d", len(locators), policy.MaxLocators)
	}
	if int(maxBlocks) > policy.MaxBlockHashesPerRequest {
		maxBlocks = policy.MaxBlockHashesPerRequest
	}
	req := &netp2p.RequestBlockHashes{
		Locators:          locators,
		MaxBlocks:         maxBlocks,
		Filter:            filter,
		RequestIdentifier: netp2p.NextRequestIdentifier(),
	}
	var resp netp2p.BlockHashes
	protoID := netp2p.RequestBlockHashesProtocolID(a.NetworkID)
	if err := netp2p.RoundTrip(ctx, a.NewStream, a.Codec, a.PeerID, protoID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestEpoch implements §4.1's request_epoch.
func (a *Agent) RequestEpoch(ctx context.Context, epochHash hash.Hash) (*netp2p.EpochInfo, error) {
	req := &netp2p.RequestEpoch{EpochHash: epochHash, RequestIdentifier: netp2p.NextRequestIdentifier()}
	var resp netp2p.EpochInfo
	protoID := netp2p.RequestEpochProtocolID(a.NetworkID)
	if err := netp2p.RoundTrip(ctx, a.NewStream, a.Codec, a.PeerID, protoID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestHistoryChunk implements §4.1's request_history_chunk. A nil Chunk
// in the response is legal at the tail of an epoch's history and is not an
// error.
func (a *Agent) RequestHistoryChunk(ctx context.Context, epochNumber uint32, chunkIndex uint64) (*netp2p.HistoryChunk, error) {
	req := &netp2p.RequestHistoryChunk{
		EpochNumber:       epochNumber,
		ChunkIndex:        chunkIndex,
		RequestIdentifier: netp2p.NextRequestIdentifier(),
	}
	var resp netp2p.HistoryChunk
	protoID := netp2p.RequestHistoryChunkProtocolID(a.NetworkID)
	if err := netp2p.RoundTrip(ctx, a.NewStream, a.Codec, a.PeerID, protoID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
