// Package mempool holds not-yet-confirmed transactions, orders them by
// fee for block assembly, and tracks per-sender in-flight balances so it
// never offers a block more spending than a sender can cover, grounded on
// mempool/src/mempool.rs.
package mempool

import (
	"context"
	"fmt"
	"sync"

	"github.com/albatross-sync/core/hash"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
)

// Block is the mempool's view of a block for reorg processing: its
// transactions, nothing else.
type Block struct {
	Hash         hash.Hash
	Number       uint32
	Transactions []*Transaction
}

// Mempool stores pending transactions and keeps them consistent across
// chain reorganizations.
type Mempool struct {
	blockchain Blockchain

	mu     sync.RWMutex
	state  *MempoolState
	filter *MempoolFilter

	exec    executorHandle
	metrics *metrics
}

// New constructs an empty Mempool against blockchain, using rules for its
// acceptance filter.
func New(blockchain Blockchain, rules MempoolRules) *Mempool {
	return &Mempool{
		blockchain: blockchain,
		state:      NewMempoolState(),
		filter:     NewMempoolFilter(rules, rules.BlacklistLimit),
		metrics:    newMetrics(),
	}
}

// StartExecutor subscribes to source and admits every transaction it
// produces until StopExecutor is called or ctx is done. A second call
// while an executor is already running is a no-op, mirroring the
// reference's "if we already have an executor running, don't do
// anything".
func (m *Mempool) StartExecutor(ctx context.Context, source transactionSource) error {
	m.exec.mu.Lock()
	defer m.exec.mu.Unlock()
	if m.exec.exe != nil {
		return nil
	}
	e, err := startExecutor(ctx, m, source)
	if err != nil {
		return err
	}
	m.exec.exe = e
	return nil
}

// StopExecutor stops a running executor. A no-op if none is running.
func (m *Mempool) StopExecutor() {
	m.exec.mu.Lock()
	defer m.exec.mu.Unlock()
	if m.exec.exe == nil {
		return
	}
	m.exec.exe.stop()
	m.exec.exe = nil
}

// AddTransaction verifies tx against the current mempool and blockchain
// state and, if it passes, admits it.
func (m *Mempool) AddTransaction(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := verifyTx(m.state, m.filter, m.blockchain, tx); err != nil {
		m.metrics.rejected.WithLabelValues(err.Error()).Inc()
		return err
	}
	m.state.Put(tx)
	m.metrics.accepted.Inc()
	m.metrics.size.Set(float64(m.state.Len()))
	return nil
}

// IsFiltered reports whether txHash has been blacklisted.
func (m *Mempool) IsFiltered(txHash hash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter.Blacklisted(txHash)
}

// Rules returns the mempool's current acceptance rules.
func (m *Mempool) Rules() MempoolRules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter.Rules()
}

// ContainsTransaction reports whether txHash is currently in the mempool —
// the network layer's cheap "have we already seen this" gossip check.
func (m *Mempool) ContainsTransaction(txHash hash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isKnown(m.state, txHash)
}

// GetTransaction returns the transaction for txHash, if present.
func (m *Mempool) GetTransaction(txHash hash.Hash) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Get(txHash)
}

// NumTransactions returns the number of pending transactions.
func (m *Mempool) NumTransactions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Len()
}

// GetTransactionsForBlock pops transactions in descending fee-per-byte
// order, removing each from the mempool, until adding the next one would
// exceed maxBytes.
func (m *Mempool) GetTransactionsForBlock(maxBytes int) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Len() == 0 {
		return nil
	}

	var txs []*Transaction
	size := 0
	for {
		txHash, ok := m.state.PeekByFee()
		if !ok {
			break
		}
		tx, _ := m.state.Get(txHash)
		size += tx.SerializedSize
		if size > maxBytes {
			break
		}
		m.state.Remove(txHash)
		txs = append(txs, tx)
	}

	m.metrics.size.Set(float64(m.state.Len()))
	log.Debug("assembled transactions for block", "selected", len(txs), "remaining", m.state.Len())
	return txs
}

// Update reconciles the mempool against a chain reorganization: it first
// evicts transactions that have aged out at the new height, then removes
// or re-balances transactions affected by newly adopted blocks, then
// reinstates transactions from reverted blocks that are still valid and
// affordable. Grounded on mempool.rs's mempool_update.
func (m *Mempool) Update(adopted, reverted []Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blockHeight := m.blockchain.BlockNumber() + 1

	m.evictAged(blockHeight)
	m.applyAdopted(adopted)
	if err := m.reinstateReverted(reverted, blockHeight); err != nil {
		log.Debug("some reverted transactions were not reinstated", "err", err)
	}
	m.metrics.size.Set(float64(m.state.Len()))
}

func (m *Mempool) evictAged(blockHeight uint32) {
	for {
		txHash, ok := m.state.PeekByAge()
		if !ok {
			return
		}
		tx, _ := m.state.Get(txHash)
		if tx.IsValidAt(blockHeight) {
			return
		}
		m.state.Remove(txHash)
		m.metrics.evicted.WithLabelValues("expired").Inc()
	}
}

func (m *Mempool) applyAdopted(adopted []Block) {
	for _, block := range adopted {
		for _, tx := range block.Transactions {
			if m.state.Contains(tx.TxHash) {
				m.state.Remove(tx.TxHash)
				m.metrics.evicted.WithLabelValues("mined").Inc()
				continue
			}

			senderState, ok := m.state.SenderState(tx.Sender)
			if !ok {
				continue
			}

			balance, known := m.blockchain.AccountBalance(tx.Sender)
			if !known {
				// Signaling txns from adopted blocks are allowed against an
				// unknown sender (synthesize a zero basic account); any
				// other value means we have nothing to evict against, so
				// leave this sender's pending set alone this round.
				if tx.TotalValue != 0 {
					continue
				}
				balance = 0
			}
			if senderState.Total <= balance {
				continue
			}

			var newTotal uint64
			for pendingHash := range senderState.Txns {
				pending, ok := m.state.Get(pendingHash)
				if !ok {
					continue
				}
				if pending.TotalValue+newTotal <= balance {
					newTotal += pending.TotalValue
					continue
				}
				m.state.Remove(pendingHash)
				m.metrics.evicted.WithLabelValues("insufficient_funds").Inc()
			}
		}
	}
}

// reinstateReverted re-admits transactions from reverted blocks that are
// still valid and affordable. Every drop is a soft failure — reorgs are
// routine — so they are collected into one multierror and returned for the
// caller to log in a single line instead of one log call per transaction.
func (m *Mempool) reinstateReverted(reverted []Block, blockHeight uint32) error {
	var dropped *multierror.Error

	for _, block := range reverted {
		for _, tx := range block.Transactions {
			if m.state.Contains(tx.TxHash) {
				continue
			}
			if !tx.IsValidAt(blockHeight) || m.blockchain.ContainsTxInValidityWindow(tx.TxHash) {
				continue
			}

			balance, known := m.blockchain.AccountBalance(tx.Sender)
			if !known {
				dropped = multierror.Append(dropped, fmt.Errorf("%s: no sender account", tx.TxHash))
				continue
			}

			var senderTotal uint64
			if st, ok := m.state.SenderState(tx.Sender); ok {
				senderTotal = st.Total
			}

			if tx.TotalValue+senderTotal <= balance {
				m.state.Put(tx)
				m.metrics.accepted.Inc()
			} else {
				dropped = multierror.Append(dropped, fmt.Errorf("%s: insufficient funds at block %d", tx.TxHash, block.Number))
			}
		}
	}

	return dropped.ErrorOrNil()
}
