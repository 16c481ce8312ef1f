package mempool

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// TransactionTopic is the gossip topic name transactions arrive on.
const TransactionTopic = "transactions"

// transactionSource is whatever Mempool's executor reads incoming gossiped
// transactions from — ordinarily a netp2p.Topic[*Transaction], but tests
// can supply a plain channel-backed fake.
type transactionSource interface {
	Subscribe(ctx context.Context) (<-chan *Transaction, error)
}

// executor pulls transactions off a subscription and runs each one
// through verify+admit, replacing the reference's
// Abortable<MempoolExecutor> with a context-cancelled goroutine.
type executor struct {
	mempool *Mempool
	source  transactionSource

	cancel context.CancelFunc
	done   chan struct{}
}

func startExecutor(ctx context.Context, m *Mempool, source transactionSource) (*executor, error) {
	ectx, cancel := context.WithCancel(ctx)
	txs, err := source.Subscribe(ectx)
	if err != nil {
		cancel()
		return nil, err
	}
	e := &executor{mempool: m, source: source, cancel: cancel, done: make(chan struct{})}
	go e.run(ectx, txs)
	return e, nil
}

func (e *executor) run(ctx context.Context, txs <-chan *Transaction) {
	defer close(e.done)
	for {
		select {
		case tx, ok := <-txs:
			if !ok {
				return
			}
			if err := e.mempool.AddTransaction(tx); err != nil {
				log.Debug("dropped gossiped transaction", "hash", tx.TxHash, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *executor) stop() {
	e.cancel()
	<-e.done
}

// executorHandle guards concurrent start/stop calls, mirroring the
// reference's Mutex<Option<AbortHandle>>.
type executorHandle struct {
	mu  sync.Mutex
	exe *executor
}
