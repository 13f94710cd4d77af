package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
)

func testKey(t *testing.T, b byte) crypto.KeyIdentifier {
	t.Helper()
	pub := make([]byte, 32)
	pub[0] = b
	kid, err := crypto.NewKeyIdentifier(crypto.Ed25519, pub)
	require.NoError(t, err)
	return kid
}

func TestPeerRateLimiterEnforcesBurst(t *testing.T) {
	limiter := NewPeerRateLimiter(PeerRateLimit{MessagesPerSecond: 1, Burst: 2})
	peer := testKey(t, 1)

	require.True(t, limiter.Allow(peer))
	require.True(t, limiter.Allow(peer))
	require.False(t, limiter.Allow(peer), "burst of 2 should be exhausted on the third call")
}

func TestPeerRateLimiterIsolatesPeers(t *testing.T) {
	limiter := NewPeerRateLimiter(PeerRateLimit{MessagesPerSecond: 1, Burst: 1})
	peerA := testKey(t, 1)
	peerB := testKey(t, 2)

	require.True(t, limiter.Allow(peerA))
	require.False(t, limiter.Allow(peerA))
	require.True(t, limiter.Allow(peerB), "a distinct peer must get its own bucket")
}

func TestPeerRateLimiterForgetResetsBucket(t *testing.T) {
	limiter := NewPeerRateLimiter(PeerRateLimit{MessagesPerSecond: 1, Burst: 1})
	peer := testKey(t, 1)

	require.True(t, limiter.Allow(peer))
	require.False(t, limiter.Allow(peer))
	limiter.Forget(peer)
	require.True(t, limiter.Allow(peer), "forgetting a peer should start it with a fresh bucket")
}
