package mempool

import (
	"github.com/albatross-sync/core/hash"
	"github.com/ethereum/go-ethereum/log"
)

// SenderPendingState tracks one sender's in-flight balance commitment:
// the sum of every mempool transaction's total value currently attributed
// to them, so a new transaction can be rejected before it would overdraw
// their account.
type SenderPendingState struct {
	Total uint64
	Txns  map[hash.Hash]struct{}
}

// MempoolState is the mempool's indexed storage: one primary map plus five
// auxiliary indices kept in lock-step by put/remove, grounded directly on
// the reference's MempoolState.
type MempoolState struct {
	transactions      map[hash.Hash]*Transaction
	transactionsByFee *keyedQueue[hash.Hash, float64]
	transactionsByAge *keyedQueue[hash.Hash, uint32]
	stateBySender     map[Address]*SenderPendingState

	// Each validator/staker may have at most one outgoing staking
	// transaction in the mempool at a time, so it can always afford its
	// own fee; likewise at most one creation transaction, so creations
	// cannot race each other.
	outgoingValidators map[Address]struct{}
	outgoingStakers    map[Address]struct{}
	creatingValidators map[Address]struct{}
	creatingStakers    map[Address]struct{}
}

// NewMempoolState constructs an empty MempoolState.
func NewMempoolState() *MempoolState {
	return &MempoolState{
		transactions:       make(map[hash.Hash]*Transaction),
		transactionsByFee:  newKeyedQueue[hash.Hash, float64](func(a, b float64) bool { return totalCmp(a, b) > 0 }),
		transactionsByAge:  newKeyedQueue[hash.Hash, uint32](func(a, b uint32) bool { return a < b }),
		stateBySender:      make(map[Address]*SenderPendingState),
		outgoingValidators: make(map[Address]struct{}),
		outgoingStakers:    make(map[Address]struct{}),
		creatingValidators: make(map[Address]struct{}),
		creatingStakers:    make(map[Address]struct{}),
	}
}

// Contains reports whether txHash is currently stored.
func (s *MempoolState) Contains(txHash hash.Hash) bool {
	_, ok := s.transactions[txHash]
	return ok
}

// Get returns the transaction for txHash, if present.
func (s *MempoolState) Get(txHash hash.Hash) (*Transaction, bool) {
	tx, ok := s.transactions[txHash]
	return tx, ok
}

// Len returns the number of stored transactions.
func (s *MempoolState) Len() int { return len(s.transactions) }

// Put inserts tx into every index. Returns false without modifying
// anything if tx is already present.
func (s *MempoolState) Put(tx *Transaction) bool {
	if _, exists := s.transactions[tx.TxHash]; exists {
		return false
	}

	s.transactions[tx.TxHash] = tx
	s.transactionsByFee.push(tx.TxHash, tx.FeePerByte)
	s.transactionsByAge.push(tx.TxHash, tx.ValidityStartHeight)

	if sender, ok := s.stateBySender[tx.Sender]; ok {
		sender.Total += tx.TotalValue
		sender.Txns[tx.TxHash] = struct{}{}
	} else {
		s.stateBySender[tx.Sender] = &SenderPendingState{
			Total: tx.TotalValue,
			Txns:  map[hash.Hash]struct{}{tx.TxHash: {}},
		}
	}

	if tx.SenderType == AccountStaking && tx.Outgoing != nil {
		set := s.outgoingSetFor(tx.Outgoing.Kind)
		if _, dup := set[tx.Outgoing.Signer]; dup {
			log.Error("outgoing staking signer already has a transaction in the mempool", "signer", tx.Outgoing.Signer)
		}
		set[tx.Outgoing.Signer] = struct{}{}
	}
	if tx.RecipientType == AccountStaking && tx.Incoming != nil {
		if set, ok := s.creatingSetFor(tx.Incoming.Kind); ok {
			if _, dup := set[tx.Incoming.Signer]; dup {
				log.Error("staking creation signer already has a transaction in the mempool", "signer", tx.Incoming.Signer)
			}
			set[tx.Incoming.Signer] = struct{}{}
		}
	}

	return true
}

// Remove deletes txHash from every index, returning the removed
// transaction if it was present.
func (s *MempoolState) Remove(txHash hash.Hash) (*Transaction, bool) {
	tx, ok := s.transactions[txHash]
	if !ok {
		return nil, false
	}
	delete(s.transactions, txHash)
	s.transactionsByFee.remove(txHash)
	s.transactionsByAge.remove(txHash)

	if sender, ok := s.stateBySender[tx.Sender]; ok {
		sender.Total -= tx.TotalValue
		delete(sender.Txns, txHash)
		if len(sender.Txns) == 0 {
			delete(s.stateBySender, tx.Sender)
		}
	}

	if tx.SenderType == AccountStaking && tx.Outgoing != nil {
		delete(s.outgoingSetFor(tx.Outgoing.Kind), tx.Outgoing.Signer)
	}
	if tx.RecipientType == AccountStaking && tx.Incoming != nil {
		if set, ok := s.creatingSetFor(tx.Incoming.Kind); ok {
			delete(set, tx.Incoming.Signer)
		}
	}

	return tx, true
}

// PeekByFee returns the hash of the highest fee-per-byte transaction.
func (s *MempoolState) PeekByFee() (hash.Hash, bool) { return s.transactionsByFee.peek() }

// PeekByAge returns the hash of the oldest (lowest ValidityStartHeight)
// transaction.
func (s *MempoolState) PeekByAge() (hash.Hash, bool) { return s.transactionsByAge.peek() }

// SenderState returns the sender's in-flight balance state, if any
// transactions from them are currently stored.
func (s *MempoolState) SenderState(sender Address) (*SenderPendingState, bool) {
	st, ok := s.stateBySender[sender]
	return st, ok
}

// HasOutgoing reports whether signer already has an outgoing staking
// transaction of kind in the mempool.
func (s *MempoolState) HasOutgoing(kind OutgoingStakingKind, signer Address) bool {
	_, ok := s.outgoingSetFor(kind)[signer]
	return ok
}

// HasCreating reports whether signer already has a staking-creation
// transaction of kind in the mempool. Kinds other than CreateValidator and
// CreateStaker never participate in this set and always report false.
func (s *MempoolState) HasCreating(kind IncomingStakingKind, signer Address) bool {
	set, ok := s.creatingSetFor(kind)
	if !ok {
		return false
	}
	_, present := set[signer]
	return present
}

func (s *MempoolState) outgoingSetFor(kind OutgoingStakingKind) map[Address]struct{} {
	if kind == OutgoingDeleteValidator {
		return s.outgoingValidators
	}
	return s.outgoingStakers
}

func (s *MempoolState) creatingSetFor(kind IncomingStakingKind) (map[Address]struct{}, bool) {
	switch kind {
	case IncomingCreateValidator:
		return s.creatingValidators, true
	case IncomingCreateStaker:
		return s.creatingStakers, true
	default:
		return nil, false
	}
}
