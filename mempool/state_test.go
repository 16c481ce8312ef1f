package mempool

import (
	"testing"

	"github.com/albatross-sync/core/hash"
	"github.com/stretchr/testify/require"
)

func mkTx(b byte, sender Address, fee float64, value uint64) *Transaction {
	var h hash.Hash
	h[0] = b
	return &Transaction{
		TxHash:         h,
		Sender:         sender,
		FeePerByte:     fee,
		TotalValue:     value,
		SerializedSize: 128,
	}
}

var senderA = Address{0xAA}
var senderB = Address{0xBB}

func TestMempoolStatePutTwiceIsNoop(t *testing.T) {
	s := NewMempoolState()
	tx := mkTx(1, senderA, 1.0, 10)

	require.True(t, s.Put(tx))
	require.False(t, s.Put(tx), "putting an already-present hash must not modify anything")
	require.Equal(t, 1, s.Len())
}

func TestMempoolStateRemoveUnknownReportsFalse(t *testing.T) {
	s := NewMempoolState()
	var h hash.Hash
	_, ok := s.Remove(h)
	require.False(t, ok)
}

func TestMempoolStateTracksPerSenderBalanceAcrossMultipleTxns(t *testing.T) {
	s := NewMempoolState()
	tx1 := mkTx(1, senderA, 1.0, 10)
	tx2 := mkTx(2, senderA, 2.0, 20)

	s.Put(tx1)
	s.Put(tx2)

	st, ok := s.SenderState(senderA)
	require.True(t, ok)
	require.Equal(t, uint64(30), st.Total)
	require.Len(t, st.Txns, 2)

	s.Remove(tx1.TxHash)
	st, ok = s.SenderState(senderA)
	require.True(t, ok)
	require.Equal(t, uint64(20), st.Total)

	s.Remove(tx2.TxHash)
	_, ok = s.SenderState(senderA)
	require.False(t, ok, "sender entry should be dropped once its last transaction is removed")
}

func TestMempoolStatePeekByFeeReturnsHighestFee(t *testing.T) {
	s := NewMempoolState()
	s.Put(mkTx(1, senderA, 1.0, 1))
	s.Put(mkTx(2, senderA, 5.0, 1))
	s.Put(mkTx(3, senderA, 3.0, 1))

	top, ok := s.PeekByFee()
	require.True(t, ok)
	require.Equal(t, mkTx(2, senderA, 5.0, 1).TxHash, top)
}

func TestMempoolStatePeekByAgeReturnsOldestValidityHeight(t *testing.T) {
	s := NewMempoolState()
	tx1 := mkTx(1, senderA, 1.0, 1)
	tx1.ValidityStartHeight = 500
	tx2 := mkTx(2, senderA, 1.0, 1)
	tx2.ValidityStartHeight = 100
	s.Put(tx1)
	s.Put(tx2)

	top, ok := s.PeekByAge()
	require.True(t, ok)
	require.Equal(t, tx2.TxHash, top)
}

func TestMempoolStateOutgoingStakingUniqueness(t *testing.T) {
	s := NewMempoolState()
	tx := mkTx(1, senderA, 1.0, 1)
	tx.SenderType = AccountStaking
	tx.Outgoing = &OutgoingStakingProof{Kind: OutgoingUnstake, Signer: senderA}
	s.Put(tx)

	require.True(t, s.HasOutgoing(OutgoingUnstake, senderA))
	require.False(t, s.HasOutgoing(OutgoingDeleteValidator, senderA), "different outgoing kinds use separate sets")
	require.False(t, s.HasOutgoing(OutgoingUnstake, senderB))

	s.Remove(tx.TxHash)
	require.False(t, s.HasOutgoing(OutgoingUnstake, senderA))
}

func TestMempoolStateCreatingStakingUniquenessOnlyAppliesToCreationKinds(t *testing.T) {
	s := NewMempoolState()
	tx := mkTx(1, senderA, 1.0, 1)
	tx.RecipientType = AccountStaking
	tx.Incoming = &IncomingStakingProof{Kind: IncomingCreateStaker, Signer: senderA}
	s.Put(tx)

	require.True(t, s.HasCreating(IncomingCreateStaker, senderA))
	require.False(t, s.HasCreating(IncomingCreateValidator, senderA))

	other := mkTx(2, senderB, 1.0, 1)
	other.RecipientType = AccountStaking
	other.Incoming = &IncomingStakingProof{Kind: IncomingOther, Signer: senderB}
	s.Put(other)
	require.False(t, s.HasCreating(IncomingOther, senderB), "IncomingOther never participates in the creation uniqueness sets")
}
