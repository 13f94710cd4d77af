package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
)

func identityFor(t *testing.T, scheme crypto.Scheme) *Identity {
	t.Helper()
	key, err := crypto.GeneratePrivateKey(scheme)
	require.NoError(t, err)
	return &Identity{PrivateKey: key, NodeID: key.KeyIdentifier()}
}

func TestHandshakeAuthenticatesBothSides(t *testing.T) {
	a := identityFor(t, crypto.Ed25519)
	b := identityFor(t, crypto.Secp256k1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	connA, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	connB, err := ln.Accept()
	require.NoError(t, err)
	defer connA.Close()
	defer connB.Close()

	guard := newReplayGuard(time.Minute, 0)

	type result struct {
		id  crypto.KeyIdentifier
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		id, err := runHandshake(connA, a, guard)
		resA <- result{id, err}
	}()
	go func() {
		id, err := runHandshake(connB, b, guard)
		resB <- result{id, err}
	}()

	ra := <-resA
	rb := <-resB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	require.True(t, ra.id.Equal(b.NodeID))
	require.True(t, rb.id.Equal(a.NodeID))
}

func TestHandshakeRejectsReplayedNonce(t *testing.T) {
	a := identityFor(t, crypto.Ed25519)
	b := identityFor(t, crypto.Ed25519)
	guard := newReplayGuard(time.Minute, 0)

	// Prime the guard as though b's nonce had already been consumed once.
	nonce, err := newNonce()
	require.NoError(t, err)
	require.True(t, guard.Remember(b.NodeID.String(), nonce))
	require.False(t, guard.Remember(b.NodeID.String(), nonce))

	// b now replays that nonce in a real handshake with a; a must reject it.
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()
	errc := make(chan error, 1)
	go func() {
		_, err := runHandshake(connA, a, guard)
		errc <- err
	}()
	var hello handshakeHello
	require.NoError(t, readJSON(connB, &hello))
	require.NoError(t, writeJSON(connB, handshakeHello{NodeID: b.NodeID, Nonce: nonce}))
	require.True(t, IsInvalidPayload(<-errc))
}
