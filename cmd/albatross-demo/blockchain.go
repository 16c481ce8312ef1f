package main

import (
	"sync"

	"github.com/albatross-sync/core/hash"
	"github.com/albatross-sync/core/historysync"
	"github.com/albatross-sync/core/mempool"
	"github.com/ethereum/go-ethereum/log"
)

// demoBlockchain is a minimal, in-memory stand-in for a real chain state
// machine: just enough to let historysync and mempool exercise their
// Blockchain collaborator interfaces. Block validation, storage and
// consensus itself are out of scope for this module.
type demoBlockchain struct {
	mu           sync.RWMutex
	blockNumber  uint32
	electionHash hash.Hash
	epochNumber  uint32
	balances     map[mempool.Address]uint64
}

func newDemoBlockchain() *demoBlockchain {
	return &demoBlockchain{balances: make(map[mempool.Address]uint64)}
}

func (b *demoBlockchain) BlockNumber() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blockNumber
}

func (b *demoBlockchain) AccountBalance(addr mempool.Address) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	balance, ok := b.balances[addr]
	return balance, ok
}

// ContainsTxInValidityWindow always reports false: this demo stand-in keeps
// no transaction history, only current balances, so it has nothing to
// consult beyond IsValidAt's own height check.
func (b *demoBlockchain) ContainsTxInValidityWindow(hash.Hash) bool {
	return false
}

func (b *demoBlockchain) ElectionHead() (hash.Hash, uint32) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.electionHash, b.epochNumber
}

func (b *demoBlockchain) PushHistorySync(epoch historysync.Epoch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockNumber = epoch.Block.BlockNumber
	if epoch.Block.IsElectionBlock {
		b.epochNumber++
	}
	log.Info("applied synced epoch", "block_number", epoch.Block.BlockNumber, "txns", len(epoch.History))
	return nil
}
