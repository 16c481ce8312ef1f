package netp2p

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Peer is the minimal identity a sync component needs: a stable ID and
// liveness that the caller can observe by noticing its weak handle is gone.
// The concrete transport (gossip, DHT, connection pool, handshakes) is an
// external collaborator; Peer only names the contract sync code depends on.
type Peer interface {
	ID() peer.ID
}

// NewStreamFn opens a libp2p stream to a peer for one of the protocol IDs
// defined in protocol.go, generalizing op-node/p2p's newStreamFn (there specialized to a
// single protocol) to the three protocols this module's request/response
// contract needs.
type NewStreamFn func(ctx context.Context, id peer.ID, protocols ...protocol.ID) (network.Stream, error)

const (
	requestTimeout  = 10 * time.Second
	responseTimeout = 20 * time.Second
)

var requestIdentifierCounter uint32

// NextRequestIdentifier returns a process-unique 32-bit request identifier
// used to correlate a response with its request on a given peer, per §4.1.
func NextRequestIdentifier() uint32 {
	return atomic.AddUint32(&requestIdentifierCounter, 1)
}

// RoundTrip opens a stream to id for protocolID, writes req with codec
// (setting a write deadline), then reads resp with codec (setting a read
// deadline), mirroring the teacher's doRequest: timeouts on both the
// open-stream and the write/read halves, stream always closed.
func RoundTrip(ctx context.Context, newStream NewStreamFn, codec Codec, id peer.ID, protocolID protocol.ID, req, resp any) error {
	openCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	str, err := newStream(openCtx, id, protocolID)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open stream to peer %s: %w", id, err)
	}
	defer str.Close()

	_ = str.SetWriteDeadline(time.Now().Add(requestTimeout))
	if err := codec.Encode(str, req); err != nil {
		return fmt.Errorf("failed to write request to peer %s: %w", id, err)
	}
	if err := str.CloseWrite(); err != nil {
		return fmt.Errorf("failed to close write side of stream to peer %s: %w", id, err)
	}

	_ = str.SetReadDeadline(time.Now().Add(responseTimeout))
	if err := codec.Decode(str, resp); err != nil {
		return fmt.Errorf("failed to read response from peer %s: %w", id, err)
	}
	return nil
}
