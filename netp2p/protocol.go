package netp2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Protocol IDs for the three request/response exchanges named in §6.
// Grounded on op-node/p2p's PayloadByNumberProtocolID pattern, generalized
// from a single protocol to the three this module needs and parameterized
// by a network/chain discriminator instead of an L2 chain ID.
func RequestBlockHashesProtocolID(networkID string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/albatross/%s/sync/block_hashes/0.1.0", networkID))
}

func RequestEpochProtocolID(networkID string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/albatross/%s/sync/epoch/0.1.0", networkID))
}

func RequestHistoryChunkProtocolID(networkID string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/albatross/%s/sync/history_chunk/0.1.0", networkID))
}
