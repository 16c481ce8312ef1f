package mempool

import "github.com/albatross-sync/core/hash"

// Address is a 20-byte account identifier, deliberately narrower than
// hash.Hash so the two are never confused at a call site.
type Address [20]byte

func (a Address) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(a)*2)
	for i, b := range a {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// AccountType distinguishes the staking contract from ordinary accounts,
// since only staking transactions need the uniqueness bookkeeping in
// MempoolState.
type AccountType uint8

const (
	AccountBasic AccountType = iota
	AccountStaking
)

// OutgoingStakingKind classifies a transaction that spends out of the
// staking contract.
type OutgoingStakingKind uint8

const (
	OutgoingDeleteValidator OutgoingStakingKind = iota
	OutgoingUnstake
)

// OutgoingStakingProof names the signer of an outgoing staking
// transaction, for the outgoing_validators/outgoing_stakers uniqueness
// sets.
type OutgoingStakingProof struct {
	Kind   OutgoingStakingKind
	Signer Address
}

// IncomingStakingKind classifies a transaction that pays into the staking
// contract. Only the two creation kinds participate in the
// creating_validators/creating_stakers uniqueness sets; other incoming
// staking transactions (e.g. adding stake to an existing staker) do not.
type IncomingStakingKind uint8

const (
	IncomingCreateValidator IncomingStakingKind = iota
	IncomingCreateStaker
	IncomingOther
)

// IncomingStakingProof names the signer of an incoming staking
// transaction.
type IncomingStakingProof struct {
	Kind   IncomingStakingKind
	Signer Address
}

// Transaction is the mempool's view of a transaction: enough fields to
// order, size-budget and validity-window it, with the transaction's wire
// bytes opaque beyond their length.
type Transaction struct {
	TxHash      hash.Hash
	Sender      Address
	SenderType  AccountType
	Recipient   Address
	RecipientType AccountType

	TotalValue          uint64
	FeePerByte          float64
	ValidityStartHeight uint32
	SerializedSize      int

	// Outgoing/Incoming are non-nil only when SenderType/RecipientType is
	// AccountStaking, naming which uniqueness set the transaction
	// participates in.
	Outgoing *OutgoingStakingProof
	Incoming *IncomingStakingProof
}

// validityWindow bounds how long a transaction stays valid after its
// ValidityStartHeight, mirroring the blockchain's transaction validity
// window; the blockchain itself is an external collaborator so this is
// a plain constant here rather than a queried parameter.
const validityWindow = 7200

// IsValidAt reports whether the transaction is still within its validity
// window at blockHeight.
func (t *Transaction) IsValidAt(blockHeight uint32) bool {
	if blockHeight < t.ValidityStartHeight {
		return true
	}
	return blockHeight-t.ValidityStartHeight <= validityWindow
}
