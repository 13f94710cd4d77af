// Package network carries dispatch.Envelope between nodes over
// authenticated TCP connections: a length-prefixed frame codec, a mutual
// challenge-response handshake keyed on this module's dual-scheme
// signing material, and a reputation/rate-limit layer guarding against a
// misbehaving or overeager peer.
//
// Server implements dispatch.Transport and dispatch.PeerProvider, the two
// narrow ports the dispatch and ledger packages need from whatever moves
// bytes between nodes; neither package imports this one.
package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/dispatch"
	"github.com/opencanarias-go/subjectchain/storage"
)

// Handler processes an inbound, non-control envelope. Satisfied by
// *dispatch.Dispatcher without any adapter, since its HandleEnvelope
// method already has exactly this signature.
type Handler interface {
	HandleEnvelope(sender crypto.KeyIdentifier, env dispatch.Envelope) error
}

// Config tunes connection lifecycle behavior.
type Config struct {
	ListenAddr   string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxPeers     int
	RateLimit    PeerRateLimit
	Reputation   ReputationConfig
	Seeds        []string
}

func (c *Config) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = 64
	}
}

// Server coordinates peer connections, authenticates them, and routes
// inbound frames to Handler while offering outbound delivery to the
// dispatch/tasks layer via Send.
type Server struct {
	cfg      Config
	identity *Identity
	handler  Handler

	limiter    *PeerRateLimiter
	reputation *ReputationManager
	guard      *replayGuard

	mu    sync.RWMutex
	peers map[string]*Peer // keyed by KeyIdentifier.String()
	store *peerStore

	dialMgr *dialManager
}

// NewServer builds a Server whose peer address book is kept only in
// memory; suitable for tests and for nodes that are fine rediscovering
// peers from Seeds and PEX after every restart.
func NewServer(cfg Config, identity *Identity, handler Handler) *Server {
	return newServer(cfg, identity, handler, newPeerStore())
}

// NewPersistentServer is NewServer, but backs the peer address book with
// db so dial history and peer scores survive a restart.
func NewPersistentServer(cfg Config, identity *Identity, handler Handler, db storage.Database) (*Server, error) {
	store, err := newPersistentPeerStore(db)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, identity, handler, store), nil
}

func newServer(cfg Config, identity *Identity, handler Handler, store *peerStore) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:        cfg,
		identity:   identity,
		handler:    handler,
		limiter:    NewPeerRateLimiter(cfg.RateLimit),
		reputation: NewReputationManager(cfg.Reputation),
		guard:      newReplayGuard(defaultReplayGuardTTL, defaultReplayGuardMaxEntries),
		peers:      make(map[string]*Peer),
		store:      store,
	}
	s.dialMgr = newDialManager(s, parseSeeds(cfg.Seeds))
	return s
}

// Start begins listening for inbound connections and dialing configured
// seeds; it blocks until the listener fails. Start binds ListenAddr itself
// and does not report the bound address; to learn an OS-assigned port
// (ListenAddr in the ":0" form), use Listen followed by Serve instead.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds the configured address without yet accepting connections,
// so a caller can read back the OS-assigned port before serving.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.cfg.ListenAddr)
}

// Serve accepts connections from an already-bound listener and dials
// configured seeds; it blocks until the listener fails.
func (s *Server) Serve(ln net.Listener) error {
	s.dialMgr.start()
	go s.pexLoop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return err
		}
		go s.acceptInbound(conn)
	}
}

// pexLoop periodically asks one connected peer for fresh addresses, the
// gossip step that lets the network discover peers beyond its seed list.
func (s *Server) pexLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		target, ok := s.randomPeer()
		if !ok {
			continue
		}
		if err := s.RequestPeers(target, 32, uuid.NewString()); err != nil {
			s.reputation.PenalizeMalformed(target.String(), time.Now(), false)
		}
	}
}

func (s *Server) randomPeer() (crypto.KeyIdentifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		return p.ID, true
	}
	return crypto.KeyIdentifier{}, false
}

func (s *Server) acceptInbound(conn net.Conn) {
	if err := s.initPeer(conn, true); err != nil {
		conn.Close()
	}
}

// Dial establishes an outbound connection to addr and authenticates it.
func (s *Server) Dial(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return err
	}
	return s.initPeer(conn, false)
}

func (s *Server) initPeer(conn net.Conn, inbound bool) error {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	remoteID, err := runHandshake(conn, s.identity, s.guard)
	if err != nil {
		handshakesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	conn.SetDeadline(time.Time{})

	if remoteID.Equal(s.identity.NodeID) {
		return fmt.Errorf("network: refusing self connection")
	}
	if banned, _ := s.reputation.BanInfo(remoteID.String(), time.Now()); banned {
		handshakesTotal.WithLabelValues("banned").Inc()
		return ErrPeerBanned
	}

	peer := newPeer(remoteID, conn, s, inbound)
	if err := s.registerPeer(peer); err != nil {
		return err
	}
	handshakesTotal.WithLabelValues("accepted").Inc()
	s.store.put(peerstoreEntry{Addr: conn.RemoteAddr().String(), NodeID: remoteID.String(), LastSeen: time.Now()})
	s.store.recordSuccess(remoteID.String(), time.Now())
	peer.start()
	return nil
}

func (s *Server) registerPeer(p *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) >= s.cfg.MaxPeers {
		return fmt.Errorf("network: at max peer capacity (%d)", s.cfg.MaxPeers)
	}
	s.peers[p.ID.String()] = p
	connectedPeers.Set(float64(len(s.peers)))
	return nil
}

func (s *Server) removePeer(p *Peer, ban bool, reason error) {
	s.mu.Lock()
	delete(s.peers, p.ID.String())
	connectedPeers.Set(float64(len(s.peers)))
	s.mu.Unlock()
	s.limiter.Forget(p.ID)
	if ban {
		s.reputation.SetBan(p.ID.String(), time.Now().Add(s.cfg.Reputation.BanDuration), time.Now())
		s.store.recordFail(p.ID.String(), time.Now())
	}
	_ = reason
}

func (s *Server) handleRateLimit(p *Peer) {
	s.reputation.PenalizeSpam(p.ID.String(), time.Now(), false)
	p.terminate(false, fmt.Errorf("network: peer %s exceeded rate limit", p.ID))
}

// --- dispatch.Transport ---

// Send implements dispatch.Transport: delivers env to target over its live
// connection, if one is currently open.
func (s *Server) Send(target crypto.KeyIdentifier, env dispatch.Envelope) error {
	s.mu.RLock()
	peer, ok := s.peers[target.String()]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}
	return peer.Enqueue(env)
}

// --- dispatch.PeerProvider ---

// Peers implements dispatch.PeerProvider: every currently connected
// identity, the broadcast set a GapRequester sends catch-up requests to.
func (s *Server) Peers() []crypto.KeyIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crypto.KeyIdentifier, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.ID)
	}
	return out
}

// --- peer exchange ---

func (s *Server) handlePexRequest(from *Peer, payload []byte) error {
	var req pexRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	addrs := s.store.sample(req.Limit)
	env, err := encodeControl(pexAddresses{Token: req.Token, Addresses: addrs})
	if err != nil {
		return err
	}
	return from.Enqueue(env)
}

func (s *Server) handlePexAddresses(from *Peer, payload []byte) error {
	var resp pexAddresses
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for _, addr := range resp.Addresses {
		s.store.observe(addr)
	}
	return nil
}

// RequestPeers asks peer for a fresh batch of gossipable addresses.
func (s *Server) RequestPeers(target crypto.KeyIdentifier, limit int, token string) error {
	s.mu.RLock()
	peer, ok := s.peers[target.String()]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}
	env, err := encodeControl(pexRequest{Limit: limit, Token: token})
	if err != nil {
		return err
	}
	return peer.Enqueue(env)
}
