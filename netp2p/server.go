package netp2p

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// Rate-limit defaults, grounded on op-node/p2p/sync.go's
// globalServerBlocksRateLimit/peerServerBlocksRateLimit constants,
// generalized from "blocks" to any of the three request kinds this server
// answers (block-hash, epoch, history-chunk requests all share one
// global+per-peer budget, since they are all "serve the asker some of our
// history" work).
const (
	maxThrottleDelay      = 20 * time.Second
	globalRequestsRate    rate.Limit = 10
	globalRequestsBurst              = 5
	peerRequestsRate      rate.Limit = 4
	peerRequestsBurst                = 3
	peerRateLimitCapacity             = 1000
)

// peerStat maintains rate-limiting data for a peer that requests service
// from us, mirroring sync.go's peerStat.
type peerStat struct {
	requests *rate.Limiter
}

// HandlerFunc answers one decoded request, producing a response to encode
// back, or an error to log and drop the stream for.
type HandlerFunc func(ctx context.Context, peerID peer.ID, req any) (resp any, err error)

// RequestResponseServer is a libp2p stream handler with a global and a
// per-peer token-bucket rate limit, grounded directly on
// op-node/p2p/sync.go's P2PReqRespServer/HandleSyncRequest: a peer that
// asks too fast is throttled (made to wait, up to maxThrottleDelay), not
// disconnected. Handle closes the stream when it returns: after the
// response is written, or early on a decode, handler or read failure.
type RequestResponseServer struct {
	codec Codec

	peerRateLimits *lru.LRU[peer.ID, *peerStat]
	peerStatsLock  sync.Mutex

	globalRequestsRL *rate.Limiter
}

// NewRequestResponseServer constructs a server sharing one rate-limit
// configuration across all registered protocol handlers.
func NewRequestResponseServer(codec Codec) *RequestResponseServer {
	peerRateLimits, _ := lru.NewLRU[peer.ID, *peerStat](peerRateLimitCapacity, nil)
	return &RequestResponseServer{
		codec:            codec,
		peerRateLimits:   peerRateLimits,
		globalRequestsRL: rate.NewLimiter(globalRequestsRate, globalRequestsBurst),
	}
}

// Handle wraps a decode(request)->handle->encode(response) cycle with this
// server's rate limiting, in the shape of a libp2p network.StreamHandler.
// newReq must return a fresh pointer to decode the request into (e.g.
// func() any { return new(RequestBlockHashes) }).
func (s *RequestResponseServer) Handle(ctx context.Context, stream network.Stream, newReq func() any, fn HandlerFunc) {
	defer stream.Close()
	peerID := stream.Conn().RemotePeer()

	ctx, cancel := context.WithTimeout(ctx, maxThrottleDelay)
	defer cancel()

	if err := s.globalRequestsRL.Wait(ctx); err != nil {
		return
	}

	s.peerStatsLock.Lock()
	ps, ok := s.peerRateLimits.Get(peerID)
	if !ok {
		ps = &peerStat{requests: rate.NewLimiter(peerRequestsRate, peerRequestsBurst)}
		s.peerRateLimits.Add(peerID, ps)
		ps.requests.Reserve() // count this hit, delay the next one instead of blocking now
		s.peerStatsLock.Unlock()
	} else {
		s.peerStatsLock.Unlock()
		if err := ps.requests.Wait(ctx); err != nil {
			return
		}
	}

	_ = stream.SetReadDeadline(time.Now().Add(requestTimeout))
	req := newReq()
	if err := s.codec.Decode(stream, req); err != nil {
		return
	}
	if err := stream.CloseRead(); err != nil {
		return
	}

	resp, err := fn(ctx, peerID, req)
	if err != nil {
		return
	}

	_ = stream.SetWriteDeadline(time.Now().Add(requestTimeout))
	_ = s.codec.Encode(stream, resp)
}
