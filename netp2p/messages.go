package netp2p

import "github.com/albatross-sync/core/hash"

// Message type identifiers, echoed on the wire exactly as specified by the
// external request/response contract (the wire encoding itself is not
// specified here — only the logical fields and their TYPE_IDs).
const (
	TypeRequestBlockHashes uint64 = 200
	TypeBlockHashes        uint64 = 201
	TypeRequestEpoch       uint64 = 202
	TypeEpochInfo          uint64 = 203
	TypeRequestHistoryChunk uint64 = 204
	TypeHistoryChunk       uint64 = 205
)

// BlockHashType classifies a hash returned by RequestBlockHashes.
type BlockHashType uint8

const (
	BlockHashTypeMicro      BlockHashType = 1
	BlockHashTypeCheckpoint BlockHashType = 2
	BlockHashTypeElection   BlockHashType = 3
)

// BlockHashesFilter selects which kind of blocks RequestBlockHashes returns.
type BlockHashesFilter uint8

const (
	FilterAll                         BlockHashesFilter = 1
	FilterElectionOnly                BlockHashesFilter = 2
	FilterElectionAndLatestCheckpoint BlockHashesFilter = 3
)

// BlockIDPair is one entry of a BlockHashes response.
type BlockIDPair struct {
	Type BlockHashType
	Hash hash.Hash
}

// RequestBlockHashes is TYPE_ID 200.
type RequestBlockHashes struct {
	Locators         []hash.Hash // at most policy.MaxLocators
	MaxBlocks        uint16      // at most policy.MaxBlockHashesPerRequest
	Filter           BlockHashesFilter
	RequestIdentifier uint32
}

// BlockHashes is TYPE_ID 201, the response to RequestBlockHashes.
type BlockHashes struct {
	Hashes            []BlockIDPair
	RequestIdentifier uint32
}

// RequestEpoch is TYPE_ID 202 ("RequestBatchSet" in the wire table).
type RequestEpoch struct {
	EpochHash         hash.Hash
	RequestIdentifier uint32
}

// MacroBlock is the macro-block half of an Epoch, carrying only the fields
// this module's invariants depend on; block validation itself is an
// external collaborator.
type MacroBlock struct {
	BlockNumber     uint32
	Seed            []byte
	IsElectionBlock bool
}

// EpochInfo is TYPE_ID 203 ("BatchSetInfo" in the wire table), the response
// to RequestEpoch.
type EpochInfo struct {
	Block             MacroBlock
	HistoryLen        uint32
	RequestIdentifier uint32
}

// RequestHistoryChunk is TYPE_ID 204.
type RequestHistoryChunk struct {
	EpochNumber       uint32
	ChunkIndex        uint64
	RequestIdentifier uint32
}

// ExtendedTransaction is an opaque history-store entry; its contents are
// not interpreted by the sync or mempool logic beyond being carried and
// counted.
type ExtendedTransaction struct {
	Data []byte
}

// HistoryTreeChunk is the payload of a HistoryChunk response.
type HistoryTreeChunk struct {
	History []ExtendedTransaction
}

// HistoryChunk is TYPE_ID 205, the response to RequestHistoryChunk. A nil
// Chunk is legal at the tail of an epoch's history.
type HistoryChunk struct {
	Chunk             *HistoryTreeChunk
	RequestIdentifier uint32
}
