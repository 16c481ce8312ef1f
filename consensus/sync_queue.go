package consensus

import (
	"container/heap"
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"
)

// RequestFn issues the request for id against p, reporting ok=false for any
// transport error, deserialization failure or timeout — the uniform
// "request failed" signal SyncQueue treats as retryable (§4.1).
type RequestFn[P any, Id any, Out any] func(ctx context.Context, id Id, p P) (Out, bool)

// PeerHandle names a peer and a way to resolve its current live handle,
// mirroring the reference's Weak<ConsensusAgent<Peer>>: Upgrade reports
// ok=false once the peer has disconnected, without SyncQueue needing to
// know anything about connection lifecycles.
type PeerHandle[P any] struct {
	PeerID  peer.ID
	Upgrade func() (P, bool)
}

// Result is one emitted item of a SyncQueue: either the output for ID (Err
// false) or notice that every peer was tried for ID without success (Err
// true), per §4.2's "yields Ok(Out) ... yields Err(Id)" stream contract.
type Result[Id any, Out any] struct {
	ID     Id
	Output Out
	Err    bool
}

type peerEntry[P any] struct {
	peerID  peer.ID
	upgrade func() (P, bool)
}

// outputItem is one completed-but-not-yet-emitted request result, ordered
// by its enqueue index — the Go equivalent of the reference's
// QueuedOutput/BinaryHeap pair.
type outputItem[Id any, Out any] struct {
	index int
	id    Id
	data  Out
}

type outputHeap[Id any, Out any] []outputItem[Id, Out]

func (h outputHeap[Id, Out]) Len() int           { return len(h) }
func (h outputHeap[Id, Out]) Less(i, j int) bool { return h[i].index < h[j].index }
func (h outputHeap[Id, Out]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *outputHeap[Id, Out]) Push(x any)        { *h = append(*h, x.(outputItem[Id, Out])) }
func (h *outputHeap[Id, Out]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// queueMetrics is the queue's gauge pair: built once by WithMetrics, which
// registers it against the registry its caller supplies, and updated from
// inside the driver goroutine.
type queueMetrics struct {
	pendingFutures prometheus.Gauge
	queuedOutputs  prometheus.Gauge
}

// inFlightResult is what a per-request goroutine reports back to the
// driver when its RequestFn call completes.
type inFlightResult[Id any, Out any] struct {
	id        Id
	index     int
	peerIndex int
	numTries  int
	output    Out
	ok        bool
}

// SyncQueue requests a list of ids from a rotating set of peers and
// produces results in strict enqueue order, retrying failed ids on
// alternate peers, per §4.2. All mutable bookkeeping is owned by a single
// driver goroutine (the Go analog of the reference's single-poller
// discipline, §5's "Peer set inside SyncQueue: mutated only by the single
// task that owns the queue") — every exported method hands a closure to
// that goroutine instead of taking a lock directly.
type SyncQueue[P any, Id comparable, Out any] struct {
	desiredPendingSize int
	requestFn          RequestFn[P, Id, Out]

	cmds      chan func()
	resultsCh chan inFlightResult[Id, Out]
	out       chan Result[Id, Out]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// driver-owned state: touched only inside run().
	idsToRequest      []Id
	peers             []peerEntry[P]
	pendingFutures    int
	queuedOutputs     outputHeap[Id, Out]
	pendingErrors     []pendingErr[Id]
	nextIncomingIndex int
	nextOutgoingIndex int
	currentPeerIndex  int

	metrics *queueMetrics
}

// New constructs and starts a SyncQueue. ctx bounds the queue's lifetime;
// cancel it (or let it expire) to stop the driver and close Out().
func New[P any, Id comparable, Out any](ctx context.Context, ids []Id, peers []PeerHandle[P], desiredPendingSize int, requestFn RequestFn[P, Id, Out]) *SyncQueue[P, Id, Out] {
	qctx, cancel := context.WithCancel(ctx)
	q := &SyncQueue[P, Id, Out]{
		desiredPendingSize: desiredPendingSize,
		requestFn:          requestFn,
		cmds:               make(chan func()),
		resultsCh:          make(chan inFlightResult[Id, Out]),
		out:                make(chan Result[Id, Out]),
		ctx:                qctx,
		cancel:             cancel,
		idsToRequest:       append([]Id(nil), ids...),
	}
	for _, p := range peers {
		q.peers = append(q.peers, peerEntry[P]{peerID: p.PeerID, upgrade: p.Upgrade})
	}
	heap.Init(&q.queuedOutputs)
	q.wg.Add(1)
	go q.run()
	return q
}

// Out is the ordered stream of results. It stays open while the queue has
// no work (see Drained) and is closed only once the driver stops, i.e. when
// ctx is cancelled or Close is called.
func (q *SyncQueue[P, Id, Out]) Out() <-chan Result[Id, Out] {
	return q.out
}

// Close stops the driver goroutine and releases its resources.
func (q *SyncQueue[P, Id, Out]) Close() {
	q.cancel()
	q.wg.Wait()
}

// WithMetrics registers a pending_futures/queued_outputs gauge pair,
// labeled by name (e.g. "epoch", "history_chunk" — distinguishing the two
// queues a SyncCluster owns) against registry, and returns q for chaining.
// A nil registry is a no-op, so embedders that never set up metrics pay
// nothing. The assignment is routed through the driver goroutine so it is
// safe to call concurrently with normal use.
func (q *SyncQueue[P, Id, Out]) WithMetrics(registry *prometheus.Registry, name string) *SyncQueue[P, Id, Out] {
	if registry == nil {
		return q
	}
	m := &queueMetrics{
		pendingFutures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "albatross",
			Subsystem:   "sync_queue",
			Name:        "pending_futures",
			Help:        "In-flight requests for this sync queue.",
			ConstLabels: prometheus.Labels{"queue": name},
		}),
		queuedOutputs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "albatross",
			Subsystem:   "sync_queue",
			Name:        "queued_outputs",
			Help:        "Completed-but-out-of-order results parked in this sync queue's heap.",
			ConstLabels: prometheus.Labels{"queue": name},
		}),
	}
	registry.MustRegister(m.pendingFutures, m.queuedOutputs)
	q.do(func() {
		q.metrics = m
		q.reportMetrics()
	})
	return q
}

// reportMetrics pushes the driver's current counts to the gauges. Called
// only from run(), so it never races WithMetrics's do()-routed assignment.
func (q *SyncQueue[P, Id, Out]) reportMetrics() {
	if q.metrics == nil {
		return
	}
	q.metrics.pendingFutures.Set(float64(q.pendingFutures))
	q.metrics.queuedOutputs.Set(float64(len(q.queuedOutputs)))
}

func (q *SyncQueue[P, Id, Out]) do(f func()) {
	done := make(chan struct{})
	select {
	case q.cmds <- func() { f(); close(done) }:
	case <-q.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-q.ctx.Done():
	}
}

// AddIDs appends ids to the tail of the request queue.
func (q *SyncQueue[P, Id, Out]) AddIDs(ids []Id) {
	q.do(func() {
		q.idsToRequest = append(q.idsToRequest, ids...)
	})
}

// TruncateIDs retains only the first len not-yet-started ids, counted from
// the original enqueue order (i.e. len - nextIncomingIndex of the
// not-yet-requested tail).
func (q *SyncQueue[P, Id, Out]) TruncateIDs(length int) {
	q.do(func() {
		keep := length - q.nextIncomingIndex
		if keep < 0 {
			keep = 0
		}
		if keep < len(q.idsToRequest) {
			q.idsToRequest = q.idsToRequest[:keep]
		}
	})
}

// AddPeer registers a new peer at the end of the rotation.
func (q *SyncQueue[P, Id, Out]) AddPeer(p PeerHandle[P]) {
	q.do(func() {
		q.peers = append(q.peers, peerEntry[P]{peerID: p.PeerID, upgrade: p.Upgrade})
	})
}

// RemovePeer drops a peer from the rotation by ID.
func (q *SyncQueue[P, Id, Out]) RemovePeer(id peer.ID) {
	q.do(func() {
		kept := q.peers[:0]
		for _, p := range q.peers {
			if p.peerID != id {
				kept = append(kept, p)
			}
		}
		q.peers = kept
	})
}

// HasPeer reports whether id is currently registered.
func (q *SyncQueue[P, Id, Out]) HasPeer(id peer.ID) bool {
	var has bool
	q.do(func() {
		for _, p := range q.peers {
			if p.peerID == id {
				has = true
				return
			}
		}
	})
	return has
}

// NumPeers returns the current peer-set size.
func (q *SyncQueue[P, Id, Out]) NumPeers() int {
	var n int
	q.do(func() { n = len(q.peers) })
	return n
}

// Len is ids_to_request + pending_futures + queued_outputs (§4.2 size hint).
func (q *SyncQueue[P, Id, Out]) Len() int {
	var n int
	q.do(func() { n = len(q.idsToRequest) + q.pendingFutures + len(q.queuedOutputs) })
	return n
}

// IsEmpty reports Len() == 0.
func (q *SyncQueue[P, Id, Out]) IsEmpty() bool {
	return q.Len() == 0
}

// Peers returns a snapshot copy of the current peer IDs, in rotation order.
func (q *SyncQueue[P, Id, Out]) Peers() []peer.ID {
	var ids []peer.ID
	q.do(func() {
		for _, p := range q.peers {
			ids = append(ids, p.peerID)
		}
	})
	return ids
}

// PeerHandles returns a snapshot copy of the current peer rotation,
// including each peer's Upgrade func — used by SyncCluster.splitOff to
// seed a sibling queue with the same peer set.
func (q *SyncQueue[P, Id, Out]) PeerHandles() []PeerHandle[P] {
	var out []PeerHandle[P]
	q.do(func() {
		for _, p := range q.peers {
			out = append(out, PeerHandle[P]{PeerID: p.peerID, Upgrade: p.upgrade})
		}
	})
	return out
}

// getNextPeer walks the rotation starting at startIndex, upgrading weak
// peer handles and dropping any that fail to upgrade, mirroring the
// reference's get_next_peer. Returns ok=false only once every peer has
// been tried and removed.
func (q *SyncQueue[P, Id, Out]) getNextPeer(startIndex int) (P, int, bool) {
	for len(q.peers) > 0 {
		index := startIndex % len(q.peers)
		if p, ok := q.peers[index].upgrade(); ok {
			return p, index, true
		}
		q.peers = append(q.peers[:index], q.peers[index+1:]...)
	}
	var zero P
	return zero, 0, false
}

func (q *SyncQueue[P, Id, Out]) spawnRequest(id Id, p P, index, peerIndex, numTries int) {
	q.pendingFutures++
	go func() {
		out, ok := q.requestFn(q.ctx, id, p)
		select {
		case q.resultsCh <- inFlightResult[Id, Out]{id: id, index: index, peerIndex: peerIndex, numTries: numTries, output: out, ok: ok}:
		case <-q.ctx.Done():
		}
	}()
}

// tryPushFutures tops up in-flight requests up to desiredPendingSize minus
// work already in flight or completed-but-queued-out-of-order, assigning
// each new request to the current peer and advancing the rotation — ported
// directly from the reference's try_push_futures.
func (q *SyncQueue[P, Id, Out]) tryPushFutures() {
	inFlightOrQueued := q.pendingFutures + len(q.queuedOutputs)
	want := q.desiredPendingSize - inFlightOrQueued
	if want <= 0 {
		return
	}
	if want > len(q.idsToRequest) {
		want = len(q.idsToRequest)
	}
	for i := 0; i < want; i++ {
		p, peerIndex, ok := q.getNextPeer(q.currentPeerIndex)
		if !ok {
			return
		}
		id := q.idsToRequest[0]
		q.idsToRequest = q.idsToRequest[1:]

		index := q.nextIncomingIndex
		q.nextIncomingIndex++
		q.currentPeerIndex = (peerIndex + 1) % len(q.peers)

		q.spawnRequest(id, p, index, peerIndex, 1)
	}
}

// handleResult processes one completed request: on success it either
// emits immediately (if it's the next expected index) or parks it in the
// min-heap; on failure it retries on the next peer in rotation, or emits
// Err once every peer has been tried (numTries >= len(peers)).
func (q *SyncQueue[P, Id, Out]) handleResult(r inFlightResult[Id, Out]) bool {
	q.pendingFutures--
	if r.ok {
		if r.index == q.nextOutgoingIndex {
			return q.emit(Result[Id, Out]{ID: r.id, Output: r.output})
		}
		heap.Push(&q.queuedOutputs, outputItem[Id, Out]{index: r.index, id: r.id, data: r.output})
		return true
	}

	if r.numTries >= len(q.peers) {
		if r.index == q.nextOutgoingIndex {
			return q.emit(Result[Id, Out]{ID: r.id, Err: true})
		}
		// Exhausted before its turn: record it so drainQueuedOutputs emits
		// Err for it, in order, once nextOutgoingIndex reaches it.
		q.pendingErr(r.index, r.id)
		return true
	}

	nextPeerIndex := (r.peerIndex + 1) % max(len(q.peers), 1)
	p, peerIndex, ok := q.getNextPeer(nextPeerIndex)
	if !ok {
		if r.index == q.nextOutgoingIndex {
			return q.emit(Result[Id, Out]{ID: r.id, Err: true})
		}
		q.pendingErr(r.index, r.id)
		return true
	}
	q.spawnRequest(r.id, p, r.index, peerIndex, r.numTries+1)
	return true
}

// pendingErr records an id whose retries were exhausted before its turn
// to be emitted came up, so drainQueuedOutputs can emit Err for it in
// order instead of silently losing the failure.
type pendingErr[Id any] struct {
	index int
	id    Id
}

func (q *SyncQueue[P, Id, Out]) pendingErr(index int, id Id) {
	q.pendingErrors = append(q.pendingErrors, pendingErr[Id]{index: index, id: id})
}

// emit sends result downstream and advances nextOutgoingIndex, then drains
// any queued results (successes or recorded errors) that are now due.
func (q *SyncQueue[P, Id, Out]) emit(result Result[Id, Out]) bool {
	if !q.emitNoRecurse(result) {
		return false
	}
	return q.drainQueuedOutputs()
}

// drainQueuedOutputs pops and emits any parked successes, and any recorded
// permanent failures, whose index equals nextOutgoingIndex, in order.
func (q *SyncQueue[P, Id, Out]) drainQueuedOutputs() bool {
	for {
		dueErr := -1
		for i, pe := range q.pendingErrors {
			if pe.index == q.nextOutgoingIndex {
				dueErr = i
				break
			}
		}
		if dueErr >= 0 {
			pe := q.pendingErrors[dueErr]
			q.pendingErrors = append(q.pendingErrors[:dueErr], q.pendingErrors[dueErr+1:]...)
			if !q.emitNoRecurse(Result[Id, Out]{ID: pe.id, Err: true}) {
				return false
			}
			continue
		}
		if len(q.queuedOutputs) > 0 && q.queuedOutputs[0].index == q.nextOutgoingIndex {
			item := heap.Pop(&q.queuedOutputs).(outputItem[Id, Out])
			if !q.emitNoRecurse(Result[Id, Out]{ID: item.id, Output: item.data}) {
				return false
			}
			continue
		}
		return true
	}
}

func (q *SyncQueue[P, Id, Out]) emitNoRecurse(result Result[Id, Out]) bool {
	q.nextOutgoingIndex++
	select {
	case q.out <- result:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// Drained reports the reference implementation's Stream-termination
// condition (ids exhausted with nothing pending, or the peer set emptied
// with ids remaining). Unlike a Rust Stream, a Go SyncQueue does not close
// itself when this becomes true — it may be refilled later via AddIDs, a
// pattern SyncCluster relies on for its initially-empty history queue.
// Callers that know no more ids or peers are coming (e.g. an evicted
// cluster) use this to decide whether to Close the queue.
func (q *SyncQueue[P, Id, Out]) Drained() bool {
	var drained bool
	q.do(func() {
		noMoreWork := len(q.idsToRequest) == 0 && q.pendingFutures == 0 &&
			len(q.queuedOutputs) == 0 && len(q.pendingErrors) == 0
		drained = noMoreWork || (len(q.peers) == 0 && len(q.idsToRequest) > 0)
	})
	return drained
}

func (q *SyncQueue[P, Id, Out]) run() {
	defer q.wg.Done()
	defer close(q.out)

	for {
		q.tryPushFutures()
		q.reportMetrics()
		select {
		case cmd := <-q.cmds:
			cmd()
		case r := <-q.resultsCh:
			if !q.handleResult(r) {
				return
			}
			q.reportMetrics()
		case <-q.ctx.Done():
			return
		}
	}
}

func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
