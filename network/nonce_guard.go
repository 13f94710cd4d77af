package network

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultReplayGuardMaxEntries = 64 * 1024
	defaultReplayGuardTTL        = 10 * time.Minute
)

var replayGuardMetricsOnce sync.Once
var (
	replayGuardSize      prometheus.Gauge
	replayGuardEvictions prometheus.Counter
)

func registerReplayGuardMetrics() {
	replayGuardMetricsOnce.Do(func() {
		replayGuardSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "network_nonce_guard_size",
			Help: "Number of handshake nonces currently tracked by the replay guard.",
		})
		replayGuardEvictions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "network_nonce_guard_evicted_total",
			Help: "Handshake nonces evicted from the replay guard by TTL or capacity.",
		})
		prometheus.MustRegister(replayGuardSize, replayGuardEvictions)
	})
}

type nonceRecord struct {
	seenAt time.Time
}

// replayGuard rejects a (peerID, nonce) pair it has already seen within
// ttl, closing the window a restarted or replaying peer could otherwise
// reuse a captured handshake nonce. peerID is a KeyIdentifier.String(),
// already the canonical "<scheme>:<hex>" form, so no extra normalization
// of the identity half is needed; only the nonce bytes are fingerprinted.
type replayGuard struct {
	mu          sync.Mutex
	ttl         time.Duration
	maxEntries  int
	entries     map[string]nonceRecord
	janitorStop chan struct{}
	janitorWG   sync.WaitGroup
}

func newReplayGuard(ttl time.Duration, maxEntries int) *replayGuard {
	if ttl <= 0 {
		ttl = defaultReplayGuardTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayGuardMaxEntries
	}
	registerReplayGuardMetrics()
	g := &replayGuard{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]nonceRecord),
	}
	return g
}

// Remember records (peerID, nonce) as seen and reports whether this is the
// first time it has been observed. A false return means the caller handed
// over a nonce already consumed and the handshake must be rejected.
func (g *replayGuard) Remember(peerID string, nonce []byte) bool {
	now := time.Now()
	key := fingerprint(peerID, nonce)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)
	if rec, ok := g.entries[key]; ok && now.Sub(rec.seenAt) < g.ttl {
		return false
	}
	g.enforceLimitLocked()
	g.entries[key] = nonceRecord{seenAt: now}
	replayGuardSize.Set(float64(len(g.entries)))
	return true
}

func (g *replayGuard) pruneLocked(now time.Time) {
	evicted := 0
	for key, rec := range g.entries {
		if now.Sub(rec.seenAt) >= g.ttl {
			delete(g.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		replayGuardEvictions.Add(float64(evicted))
	}
}

func (g *replayGuard) enforceLimitLocked() {
	if len(g.entries) < g.maxEntries {
		return
	}
	var oldestKey string
	var oldestAt time.Time
	for key, rec := range g.entries {
		if oldestKey == "" || rec.seenAt.Before(oldestAt) {
			oldestKey, oldestAt = key, rec.seenAt
		}
	}
	if oldestKey != "" {
		delete(g.entries, oldestKey)
		replayGuardEvictions.Inc()
	}
}

// Size reports the number of nonces currently tracked.
func (g *replayGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// runJanitor periodically sweeps expired entries so a guard with a long
// TTL but low churn doesn't hold memory for peers that never reconnect.
func (g *replayGuard) runJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = g.ttl
	}
	g.janitorStop = make(chan struct{})
	g.janitorWG.Add(1)
	go func() {
		defer g.janitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.mu.Lock()
				g.pruneLocked(time.Now())
				g.mu.Unlock()
			case <-g.janitorStop:
				return
			}
		}
	}()
}

func (g *replayGuard) stopJanitor() {
	if g.janitorStop == nil {
		return
	}
	close(g.janitorStop)
	g.janitorWG.Wait()
	g.janitorStop = nil
}

func fingerprint(peerID string, nonce []byte) string {
	h := sha256.New()
	h.Write([]byte(peerID))
	h.Write([]byte{0})
	h.Write(nonce)
	return hex.EncodeToString(h.Sum(nil))
}
