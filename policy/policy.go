// Package policy collects the protocol tunables named throughout the sync
// and mempool design: epoch length, chunk size and the window/back-pressure
// constants that bound cluster and request-pipeline memory.
package policy

// NumPendingEpochs bounds the number of epochs a SyncCluster keeps
// partially downloaded at once (its pending_epochs FIFO capacity).
const NumPendingEpochs = 5

// NumPendingChunks is the desired in-flight window of the history-chunk
// SyncQueue inside a SyncCluster.
const NumPendingChunks = 12

// ConcurrentHashRequests bounds the number of simultaneous
// request_block_hashes calls HistorySync issues against newly joined peers.
const ConcurrentHashRequests = 10

// MaxClusters caps the number of concurrently tracked SyncClusters, so a
// flood of divergent peer views cannot grow HistorySync's state without
// bound.
const MaxClusters = 100

// MaxHashes is the maximum number of hashes a single Objects response (such
// as a BlockHashes reply) may carry; HistorySync asks for this many block
// hashes per peer.
const MaxHashes = 1000

// MaxObjects is the maximum number of objects any single Objects<T>
// response may carry.
const MaxObjects = 1000

// MaxLocators is the maximum number of locator hashes a single
// RequestBlockHashes may send (§4.1).
const MaxLocators = 128

// MaxBlockHashesPerRequest is the protocol ceiling on max_blocks (§4.1).
const MaxBlockHashesPerRequest = 1000

// EpochLength is the deployment's number of blocks per epoch. Like
// ChunkSize, it is a variable (not a const) because a reimplementation may
// legitimately run against differently configured networks (mainnet vs.
// test network) within the same binary.
var EpochLength uint32 = 32768

// ChunkSize is the number of ExtendedTransaction entries carried by a single
// history chunk. Deployment-defined; the reference uses a compile-time
// constant, so we default it but allow override for test networks with
// smaller chunks.
var ChunkSize = 500

// EpochAt computes the epoch number for a given macro block number:
// epoch_number = block_number / EPOCH_LENGTH (integer division).
func EpochAt(blockNumber uint32) uint32 {
	return blockNumber / EpochLength
}
