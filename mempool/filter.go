package mempool

import (
	"github.com/albatross-sync/core/hash"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// MempoolRules are the acceptance thresholds a transaction must clear
// before verify_tx ever looks at sender balances: too small a fee or too
// large a transaction is rejected outright, independent of the sender.
type MempoolRules struct {
	MinFeePerByte  float64
	MaxTxSize      int
	BlacklistLimit int
}

// DefaultMempoolRules mirrors the reference's permissive defaults: accept
// anything that fits in a block and pays a non-negative fee.
func DefaultMempoolRules() MempoolRules {
	return MempoolRules{
		MinFeePerByte:  0,
		MaxTxSize:      policyMaxTxSize,
		BlacklistLimit: 1000,
	}
}

// policyMaxTxSize is a conservative upper bound on a single transaction's
// serialized size; the wire codec is an external collaborator and may
// enforce a different limit at decode time.
const policyMaxTxSize = 16 * 1024

// MempoolFilter enforces MempoolRules and remembers recently rejected
// transaction hashes so a peer cannot cheaply make the mempool re-verify
// the same bad transaction on every retransmit.
type MempoolFilter struct {
	rules       MempoolRules
	blacklisted *lru.LRU[hash.Hash, struct{}]
}

// NewMempoolFilter constructs a filter with the given rules and blacklist
// capacity.
func NewMempoolFilter(rules MempoolRules, limit int) *MempoolFilter {
	if limit <= 0 {
		limit = 1000
	}
	blacklist, _ := lru.NewLRU[hash.Hash, struct{}](limit, nil)
	return &MempoolFilter{rules: rules, blacklisted: blacklist}
}

// Rules returns a copy of the filter's current acceptance thresholds.
func (f *MempoolFilter) Rules() MempoolRules { return f.rules }

// Accepts reports whether tx clears the filter's rules, independent of
// blacklist status.
func (f *MempoolFilter) Accepts(tx *Transaction) bool {
	if tx.FeePerByte < f.rules.MinFeePerByte {
		return false
	}
	if tx.SerializedSize > f.rules.MaxTxSize {
		return false
	}
	return true
}

// Blacklisted reports whether txHash was recently rejected.
func (f *MempoolFilter) Blacklisted(txHash hash.Hash) bool {
	return f.blacklisted.Contains(txHash)
}

// Blacklist records txHash as rejected.
func (f *MempoolFilter) Blacklist(txHash hash.Hash) {
	f.blacklisted.Add(txHash, struct{}{})
}
