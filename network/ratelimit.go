package network

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// PeerRateLimit configures the token bucket a PeerRateLimiter enforces per
// remote identity.
type PeerRateLimit struct {
	MessagesPerSecond float64
	Burst             int
}

// PeerRateLimiter enforces one token bucket per remote KeyIdentifier, so a
// single misbehaving or overeager peer cannot starve frame processing for
// every other connection.
type PeerRateLimiter struct {
	limit PeerRateLimit

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func NewPeerRateLimiter(limit PeerRateLimit) *PeerRateLimiter {
	if limit.MessagesPerSecond <= 0 {
		limit.MessagesPerSecond = 50
	}
	if limit.Burst <= 0 {
		limit.Burst = int(limit.MessagesPerSecond)
	}
	return &PeerRateLimiter{limit: limit, visitors: make(map[string]*rate.Limiter)}
}

// Allow reports whether peer may send one more frame right now, consuming
// a token if so.
func (l *PeerRateLimiter) Allow(peer crypto.KeyIdentifier) bool {
	return l.limiterFor(peer).Allow()
}

func (l *PeerRateLimiter) limiterFor(peer crypto.KeyIdentifier) *rate.Limiter {
	key := peer.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.visitors[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.limit.MessagesPerSecond), l.limit.Burst)
		l.visitors[key] = lim
	}
	return lim
}

// Forget drops a peer's bucket, reclaiming memory once a connection closes.
func (l *PeerRateLimiter) Forget(peer crypto.KeyIdentifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.visitors, peer.String())
}
