package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/dispatch"
)

const outboundQueueSize = 256

var errQueueFull = errors.New("network: peer outbound queue full")

// Peer is one live, handshake-authenticated connection. SessionID
// distinguishes successive connections from the same remote identity in
// logs and metrics, since a peer may reconnect and get a new Peer value
// while keeping the same KeyIdentifier.
type Peer struct {
	SessionID string
	ID        crypto.KeyIdentifier

	conn       net.Conn
	server     *Server
	outbound   chan dispatch.Envelope
	inbound    bool
	remoteAddr string

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(id crypto.KeyIdentifier, conn net.Conn, server *Server, inbound bool) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		SessionID:  uuid.NewString(),
		ID:         id,
		conn:       conn,
		server:     server,
		outbound:   make(chan dispatch.Envelope, outboundQueueSize),
		inbound:    inbound,
		remoteAddr: conn.RemoteAddr().String(),
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}
}

func (p *Peer) start() {
	go p.readLoop()
	go p.writeLoop()
	go p.keepaliveLoop()
}

// Enqueue schedules env for delivery to this peer without blocking the
// caller on the network; a full queue is treated as a slow/stuck peer.
func (p *Peer) Enqueue(env dispatch.Envelope) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("network: peer %s shutting down", p.ID)
	default:
	}
	select {
	case p.outbound <- env:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("network: peer %s shutting down", p.ID)
	default:
		return errQueueFull
	}
}

func (p *Peer) keepaliveLoop() {
	interval := p.server.cfg.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			env, err := encodeControl(pingMsg{Nonce: uint64(time.Now().UnixNano())})
			if err != nil {
				continue
			}
			if err := p.Enqueue(env); err != nil {
				return
			}
		}
	}
}

func (p *Peer) readLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if err := p.conn.SetReadDeadline(time.Now().Add(p.server.cfg.ReadTimeout)); err != nil {
			p.terminate(false, fmt.Errorf("set read deadline: %w", err))
			return
		}
		env, err := readFrame(p.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.terminate(false, fmt.Errorf("network: peer %s read timeout", p.ID))
				return
			}
			if errors.Is(err, io.EOF) {
				p.terminate(false, io.EOF)
				return
			}
			p.terminate(true, fmt.Errorf("network: read error: %w", err))
			return
		}

		if !p.server.limiter.Allow(p.ID) {
			p.server.handleRateLimit(p)
			return
		}

		framesTotal.WithLabelValues("in", fmt.Sprint(env.Type)).Inc()

		if isControlTag(env.Type) {
			if err := p.handleControl(env); err != nil {
				p.terminate(false, fmt.Errorf("network: control message: %w", err))
				return
			}
			continue
		}

		if err := p.server.handler.HandleEnvelope(p.ID, env); err != nil {
			p.server.reputation.PenalizeRejectedEvent(p.ID.String(), err, time.Now(), false)
		} else {
			p.server.reputation.MarkUseful(p.ID.String(), time.Now())
		}
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case env, ok := <-p.outbound:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.server.cfg.WriteTimeout)); err != nil {
				p.terminate(false, fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := writeFrame(p.conn, env); err != nil {
				p.terminate(false, fmt.Errorf("network: write error: %w", err))
				return
			}
			p.conn.SetWriteDeadline(time.Time{})
			framesTotal.WithLabelValues("out", fmt.Sprint(env.Type)).Inc()
		}
	}
}

func (p *Peer) handleControl(env dispatch.Envelope) error {
	switch env.Type {
	case tagPing:
		return p.Enqueue(dispatch.Envelope{Type: tagPong, Payload: env.Payload})
	case tagPong:
		p.server.reputation.MarkHeartbeat(p.ID.String(), time.Now())
		return nil
	case tagPexRequest:
		return p.server.handlePexRequest(p, env.Payload)
	case tagPexAddresses:
		return p.server.handlePexAddresses(p, env.Payload)
	default:
		return fmt.Errorf("network: unknown control tag %d", env.Type)
	}
}

func (p *Peer) terminate(ban bool, reason error) {
	p.closeOnce.Do(func() {
		p.cancel()
		p.conn.Close()
		close(p.outbound)
		close(p.closed)
		p.server.removePeer(p, ban, reason)
	})
}
