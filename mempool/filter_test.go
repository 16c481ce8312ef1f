package mempool

import (
	"testing"

	"github.com/albatross-sync/core/hash"
	"github.com/stretchr/testify/require"
)

func TestMempoolFilterAcceptsRespectsMinFeeAndMaxSize(t *testing.T) {
	f := NewMempoolFilter(MempoolRules{MinFeePerByte: 1.0, MaxTxSize: 100}, 10)

	tooCheap := &Transaction{FeePerByte: 0.5, SerializedSize: 50}
	require.False(t, f.Accepts(tooCheap))

	tooBig := &Transaction{FeePerByte: 2.0, SerializedSize: 200}
	require.False(t, f.Accepts(tooBig))

	fine := &Transaction{FeePerByte: 2.0, SerializedSize: 50}
	require.True(t, f.Accepts(fine))
}

func TestMempoolFilterBlacklistRoundTrip(t *testing.T) {
	f := NewMempoolFilter(DefaultMempoolRules(), 10)
	var h hash.Hash
	h[0] = 9

	require.False(t, f.Blacklisted(h))
	f.Blacklist(h)
	require.True(t, f.Blacklisted(h))
}

func TestMempoolFilterBlacklistEvictsLRUAtCapacity(t *testing.T) {
	f := NewMempoolFilter(DefaultMempoolRules(), 2)

	var h1, h2, h3 hash.Hash
	h1[0], h2[0], h3[0] = 1, 2, 3

	f.Blacklist(h1)
	f.Blacklist(h2)
	f.Blacklist(h3) // evicts h1, the least recently used

	require.False(t, f.Blacklisted(h1))
	require.True(t, f.Blacklisted(h2))
	require.True(t, f.Blacklisted(h3))
}

func TestNewMempoolFilterDefaultsNonPositiveLimit(t *testing.T) {
	f := NewMempoolFilter(DefaultMempoolRules(), 0)
	require.NotNil(t, f.blacklisted)
}
