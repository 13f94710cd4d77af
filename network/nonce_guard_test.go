package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayGuardRejectsReplayWithinTTL(t *testing.T) {
	guard := newReplayGuard(50*time.Millisecond, 0)

	require.True(t, guard.Remember("peerA", []byte("nonce-1")))
	require.False(t, guard.Remember("peerA", []byte("nonce-1")), "same peer/nonce pair must be rejected on replay")
	require.True(t, guard.Remember("peerB", []byte("nonce-1")), "same nonce bytes from a different peer is not a replay")
}

func TestReplayGuardForgetsAfterTTL(t *testing.T) {
	guard := newReplayGuard(5*time.Millisecond, 0)
	require.True(t, guard.Remember("peerA", []byte("nonce-1")))
	time.Sleep(20 * time.Millisecond)
	require.True(t, guard.Remember("peerA", []byte("nonce-1")), "expired entries must be evictable and reusable")
}

func TestReplayGuardEnforcesCapacity(t *testing.T) {
	guard := newReplayGuard(time.Hour, 2)
	require.True(t, guard.Remember("peerA", []byte("1")))
	require.True(t, guard.Remember("peerB", []byte("2")))
	require.True(t, guard.Remember("peerC", []byte("3")))
	require.LessOrEqual(t, guard.Size(), 2)
}
