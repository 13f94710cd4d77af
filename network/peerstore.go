package network

import (
	"sync"
	"time"

	"github.com/opencanarias-go/subjectchain/storage"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Minute
)

// peerstoreEntry is the dial bookkeeping kept for each address a peer has
// ever been reached at.
type peerstoreEntry struct {
	Addr        string    `json:"addr"`
	NodeID      string    `json:"node_id"`
	Score       float64   `json:"score"`
	LastSeen    time.Time `json:"last_seen"`
	Fails       int       `json:"fails"`
	BannedUntil time.Time `json:"banned_until"`
}

// peerStore is an in-memory, optionally persisted (via the same
// storage.Collection every other engine uses) registry of dial metadata
// and a gossipable address cache for peer exchange.
type peerStore struct {
	mu          sync.RWMutex
	byAddr      map[string]*peerstoreEntry
	byNode      map[string]*peerstoreEntry
	persist     *storage.Collection[peerstoreEntry]
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newPeerStore() *peerStore {
	return &peerStore{
		byAddr:      make(map[string]*peerstoreEntry),
		byNode:      make(map[string]*peerstoreEntry),
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
}

// newPersistentPeerStore backs the store with db, reloading any
// previously seen entries; used when a node wants dial history to survive
// a restart instead of rediscovering peers from seeds and PEX each time.
func newPersistentPeerStore(db storage.Database) (*peerStore, error) {
	ps := newPeerStore()
	ps.persist = storage.NewCollection[peerstoreEntry](db, "network_peer")
	entries, err := ps.persist.Range("", storage.Ascending)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		rec := e.Value
		ps.byNode[rec.NodeID] = &rec
		if rec.Addr != "" {
			ps.byAddr[rec.Addr] = &rec
		}
	}
	return ps, nil
}

func (ps *peerStore) put(rec peerstoreEntry) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if existing := ps.byNode[rec.NodeID]; existing != nil {
		if rec.Addr == "" {
			rec.Addr = existing.Addr
		}
		if rec.LastSeen.IsZero() {
			rec.LastSeen = existing.LastSeen
		}
	} else if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	cp := rec
	ps.byNode[rec.NodeID] = &cp
	if cp.Addr != "" {
		ps.byAddr[cp.Addr] = &cp
	}
	if ps.persist != nil {
		return ps.persist.Put(rec.NodeID, cp)
	}
	return nil
}

func (ps *peerStore) recordSuccess(nodeID string, now time.Time) {
	ps.mu.Lock()
	rec := ps.byNode[nodeID]
	if rec == nil {
		ps.mu.Unlock()
		return
	}
	rec.Score = minFloat(rec.Score+1, 1000)
	rec.LastSeen = now
	rec.Fails = 0
	cp := *rec
	ps.mu.Unlock()
	if ps.persist != nil {
		ps.persist.Put(nodeID, cp)
	}
}

func (ps *peerStore) recordFail(nodeID string, now time.Time) {
	ps.mu.Lock()
	rec := ps.byNode[nodeID]
	if rec == nil {
		ps.mu.Unlock()
		return
	}
	rec.Fails++
	rec.LastSeen = now
	if rec.Score > 0 {
		rec.Score *= 0.5
	}
	cp := *rec
	ps.mu.Unlock()
	if ps.persist != nil {
		ps.persist.Put(nodeID, cp)
	}
}

// sample returns up to limit known addresses, gossiped in response to a
// pexRequest.
func (ps *peerStore) sample(limit int) []pexAddress {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if limit <= 0 || limit > len(ps.byNode) {
		limit = len(ps.byNode)
	}
	out := make([]pexAddress, 0, limit)
	for _, rec := range ps.byNode {
		if rec.Addr == "" {
			continue
		}
		out = append(out, pexAddress{Addr: rec.Addr, NodeID: rec.NodeID, LastSeen: rec.LastSeen})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// observe records an address learned from a peer's pexAddresses reply.
func (ps *peerStore) observe(addr pexAddress) {
	ps.put(peerstoreEntry{Addr: addr.Addr, NodeID: addr.NodeID, LastSeen: addr.LastSeen})
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
