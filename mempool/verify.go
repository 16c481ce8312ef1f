package mempool

import (
	"errors"

	"github.com/albatross-sync/core/hash"
)

// Blockchain is the external collaborator verify consults for the facts
// it cannot derive from the transaction or the mempool's own state: the
// current chain height, a sender's confirmed account balance, and whether
// a transaction hash has already been included in the current chain's
// validity window (reverted-block reinstatement needs this fact but does
// not implement the windowing algorithm itself, which stays the
// collaborator's responsibility).
type Blockchain interface {
	BlockNumber() uint32
	AccountBalance(addr Address) (balance uint64, known bool)
	ContainsTxInValidityWindow(txHash hash.Hash) bool
}

// Verification failures, surfaced to AddTransaction's caller.
var (
	ErrAlreadyKnown        = errors.New("transaction already in mempool")
	ErrBlacklisted         = errors.New("transaction hash is blacklisted")
	ErrRejectedByRules     = errors.New("transaction rejected by mempool rules")
	ErrExpired             = errors.New("transaction is no longer valid at the current height")
	ErrUnknownSender       = errors.New("sender account does not exist")
	ErrInsufficientFunds   = errors.New("sender does not have sufficient funds")
	ErrDuplicateStakingTx  = errors.New("signer already has a staking transaction of this kind in the mempool")
)

// verifyTx runs every check a transaction must clear before it is
// admitted to the mempool, grounded on mempool.rs's add_transaction /
// verify_tx pipeline: known/blacklist/rule checks first (cheap, no
// blockchain access), then the staking uniqueness sets, then the sender's
// confirmed balance against their in-flight total.
func verifyTx(state *MempoolState, filter *MempoolFilter, bc Blockchain, tx *Transaction) error {
	if state.Contains(tx.TxHash) {
		return ErrAlreadyKnown
	}
	if filter.Blacklisted(tx.TxHash) {
		return ErrBlacklisted
	}
	if !filter.Accepts(tx) {
		filter.Blacklist(tx.TxHash)
		return ErrRejectedByRules
	}
	if !tx.IsValidAt(bc.BlockNumber() + 1) {
		return ErrExpired
	}

	if tx.SenderType == AccountStaking && tx.Outgoing != nil && state.HasOutgoing(tx.Outgoing.Kind, tx.Outgoing.Signer) {
		return ErrDuplicateStakingTx
	}
	if tx.RecipientType == AccountStaking && tx.Incoming != nil && state.HasCreating(tx.Incoming.Kind, tx.Incoming.Signer) {
		return ErrDuplicateStakingTx
	}

	balance, known := bc.AccountBalance(tx.Sender)
	if !known {
		if tx.TotalValue != 0 {
			return ErrUnknownSender
		}
		balance = 0
	}

	var inFlight uint64
	if st, ok := state.SenderState(tx.Sender); ok {
		inFlight = st.Total
	}
	if inFlight+tx.TotalValue > balance {
		return ErrInsufficientFunds
	}

	return nil
}

// isKnown reports whether txHash is currently stored, for use as the
// network layer's cheap "have we already seen this" gossip check.
func isKnown(state *MempoolState, txHash hash.Hash) bool {
	return state.Contains(txHash)
}
