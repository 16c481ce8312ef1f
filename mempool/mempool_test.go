package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/albatross-sync/core/hash"
	"github.com/stretchr/testify/require"
)

type fakeMempoolChain struct {
	height   uint32
	balances map[Address]uint64
	windowed map[hash.Hash]bool
}

func (c *fakeMempoolChain) BlockNumber() uint32 { return c.height }
func (c *fakeMempoolChain) AccountBalance(addr Address) (uint64, bool) {
	bal, ok := c.balances[addr]
	return bal, ok
}
func (c *fakeMempoolChain) ContainsTxInValidityWindow(txHash hash.Hash) bool {
	return c.windowed[txHash]
}

func TestMempoolAddTransactionAcceptsAndRejects(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 100)
	require.NoError(t, mp.AddTransaction(tx))
	require.Equal(t, 1, mp.NumTransactions())
	require.True(t, mp.ContainsTransaction(tx.TxHash))

	require.Error(t, mp.AddTransaction(tx), "re-adding the same hash must fail")
	require.Equal(t, 1, mp.NumTransactions())
}

func TestMempoolGetTransactionsForBlockOrdersByFeeAndRespectsSizeBudget(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 1000, senderB: 1000}}
	mp := New(bc, DefaultMempoolRules())

	low := mkTx(1, senderA, 1.0, 1)
	low.SerializedSize = 100
	high := mkTx(2, senderB, 5.0, 1)
	high.SerializedSize = 100
	mid := mkTx(3, senderA, 3.0, 1)
	mid.SerializedSize = 100

	require.NoError(t, mp.AddTransaction(low))
	require.NoError(t, mp.AddTransaction(high))
	require.NoError(t, mp.AddTransaction(mid))

	// Budget for exactly two 100-byte transactions.
	selected := mp.GetTransactionsForBlock(250)
	require.Len(t, selected, 2)
	require.Equal(t, high.TxHash, selected[0].TxHash)
	require.Equal(t, mid.TxHash, selected[1].TxHash)

	// Selected transactions are removed from the pool.
	require.Equal(t, 1, mp.NumTransactions())
	require.True(t, mp.ContainsTransaction(low.TxHash))
}

func TestMempoolUpdateEvictsAgedOutTransactions(t *testing.T) {
	bc := &fakeMempoolChain{height: 0, balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 10)
	tx.ValidityStartHeight = 0
	require.NoError(t, mp.AddTransaction(tx))

	bc.height = validityWindow + 10 // far past the transaction's validity window
	mp.Update(nil, nil)

	require.Equal(t, 0, mp.NumTransactions())
}

func TestMempoolUpdateRemovesMinedTransactionsOnAdoptedBlocks(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 10)
	require.NoError(t, mp.AddTransaction(tx))

	mp.Update([]Block{{Number: 1, Transactions: []*Transaction{tx}}}, nil)
	require.Equal(t, 0, mp.NumTransactions())
}

func TestMempoolUpdateEvictsDisplacedTransactionsWhenBalanceDrops(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 100}}
	mp := New(bc, DefaultMempoolRules())

	// Two pending sends totalling 80+30=110, affordable only until the
	// confirmed balance itself drops below what's already pending.
	tx1 := mkTx(1, senderA, 5.0, 80)
	tx2 := mkTx(2, senderA, 1.0, 30)
	require.NoError(t, mp.AddTransaction(tx1))
	bc.balances[senderA] = 200 // room for both while tx2 is admitted
	require.NoError(t, mp.AddTransaction(tx2))

	// An adopted block carries another transaction from senderA that the
	// mempool never saw, so senderA's pending set is re-checked against its
	// confirmed balance, which has since dropped to 50: only tx2 (30) fits,
	// tx1 (80) is evicted.
	bc.balances[senderA] = 50
	other := mkTx(3, senderA, 1.0, 1)
	mp.Update([]Block{{Number: 1, Transactions: []*Transaction{other}}}, nil)

	st, ok := mp.state.SenderState(senderA)
	require.True(t, ok)
	require.LessOrEqual(t, st.Total, uint64(50))
}

func TestMempoolUpdateReinstatesRevertedTransactions(t *testing.T) {
	bc := &fakeMempoolChain{height: 0, balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 10)
	tx.ValidityStartHeight = 0

	mp.Update(nil, []Block{{Number: 0, Transactions: []*Transaction{tx}}})
	require.True(t, mp.ContainsTransaction(tx.TxHash))
}

func TestMempoolUpdateDropsReinstatementForUnaffordableReverted(t *testing.T) {
	bc := &fakeMempoolChain{height: 0, balances: map[Address]uint64{senderA: 5}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 1000)
	mp.Update(nil, []Block{{Number: 0, Transactions: []*Transaction{tx}}})
	require.False(t, mp.ContainsTransaction(tx.TxHash))
}

func TestMempoolUpdateDropsReinstatementAlreadyInValidityWindow(t *testing.T) {
	bc := &fakeMempoolChain{height: 0, balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	tx := mkTx(1, senderA, 1.0, 10)
	tx.ValidityStartHeight = 0
	bc.windowed = map[hash.Hash]bool{tx.TxHash: true}

	mp.Update(nil, []Block{{Number: 0, Transactions: []*Transaction{tx}}})
	require.False(t, mp.ContainsTransaction(tx.TxHash),
		"a reverted tx already included in the new chain's validity window must not be reinstated")
}

func TestMempoolUpdateAdoptedSignalingTxFromUnknownSenderSynthesizesZeroBalance(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{}}
	mp := New(bc, DefaultMempoolRules())

	// senderA is known while tx1/tx2 are admitted (balance 100), then
	// becomes unknown to the blockchain by the time the adopted block is
	// processed — simulating an account the reorg target has no record of.
	bc.balances[senderA] = 100
	tx1 := mkTx(1, senderA, 5.0, 80)
	require.NoError(t, mp.AddTransaction(tx1))
	delete(bc.balances, senderA)

	signaling := mkTx(2, senderA, 1.0, 0)
	mp.Update([]Block{{Number: 1, Transactions: []*Transaction{signaling}}}, nil)

	require.False(t, mp.ContainsTransaction(tx1.TxHash),
		"a zero-value adopted tx from an unknown sender should synthesize a zero balance and evict unaffordable pending txns")
}

func TestMempoolUpdateAdoptedNonZeroTxFromUnknownSenderLeavesPendingAlone(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{}}
	mp := New(bc, DefaultMempoolRules())

	bc.balances[senderA] = 100
	tx1 := mkTx(1, senderA, 5.0, 80)
	require.NoError(t, mp.AddTransaction(tx1))
	delete(bc.balances, senderA)

	// A nonzero-value adopted tx from an unknown sender is not a signaling
	// tx, so the reference skips the eviction check for that sender this
	// round rather than synthesizing a zero balance and mass-evicting.
	nonZero := mkTx(2, senderA, 1.0, 5)
	mp.Update([]Block{{Number: 1, Transactions: []*Transaction{nonZero}}}, nil)

	require.True(t, mp.ContainsTransaction(tx1.TxHash),
		"an unknown sender's nonzero-value adopted tx must not trigger eviction against a synthetic zero balance")
}

// fakeTopic is a minimal transactionSource backed by a plain channel.
type fakeTopic struct {
	ch chan *Transaction
}

func (f *fakeTopic) Subscribe(ctx context.Context) (<-chan *Transaction, error) {
	return f.ch, nil
}

func TestMempoolExecutorAdmitsGossipedTransactions(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := &fakeTopic{ch: make(chan *Transaction, 1)}
	require.NoError(t, mp.StartExecutor(ctx, topic))
	defer mp.StopExecutor()

	// A second start while running is a no-op, not an error.
	require.NoError(t, mp.StartExecutor(ctx, topic))

	tx := mkTx(1, senderA, 1.0, 10)
	topic.ch <- tx

	require.Eventually(t, func() bool {
		return mp.ContainsTransaction(tx.TxHash)
	}, time.Second, 5*time.Millisecond)
}

func TestMempoolExecutorStopIsIdempotent(t *testing.T) {
	bc := &fakeMempoolChain{balances: map[Address]uint64{senderA: 1000}}
	mp := New(bc, DefaultMempoolRules())

	mp.StopExecutor() // no executor running yet
	require.NotPanics(t, mp.StopExecutor)
}
