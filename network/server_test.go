package network

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/crypto"
	"github.com/opencanarias-go/subjectchain/dispatch"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []dispatch.Envelope
}

func (h *recordingHandler) HandleEnvelope(sender crypto.KeyIdentifier, env dispatch.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, env)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func testConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:0",
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxPeers:     8,
		RateLimit:    PeerRateLimit{MessagesPerSecond: 100, Burst: 100},
		Reputation:   ReputationConfig{BanScore: 20, GreyScore: 10},
	}
}

func startServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	id, err := LoadOrCreateIdentity(t.TempDir()+"/identity.json", crypto.Ed25519)
	require.NoError(t, err)
	s := NewServer(testConfig(), id, handler)
	ln, err := s.Listen()
	require.NoError(t, err)
	go s.Serve(ln)
	return s, ln.Addr().String()
}

func TestServerHandshakeAndEnvelopeDelivery(t *testing.T) {
	serverHandler := &recordingHandler{}
	server, addr := startServer(t, serverHandler)

	clientHandler := &recordingHandler{}
	client, _ := startServer(t, clientHandler)

	require.NoError(t, client.Dial(addr))

	require.Eventually(t, func() bool {
		return len(server.Peers()) == 1 && len(client.Peers()) == 1
	}, time.Second, 10*time.Millisecond)

	target := client.Peers()[0]
	env := dispatch.Envelope{Type: dispatch.TagApproval, Payload: []byte(`{"hello":"world"}`)}
	require.NoError(t, client.Send(target, env))

	require.Eventually(t, func() bool {
		return serverHandler.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerSendToUnknownPeerFails(t *testing.T) {
	server, _ := startServer(t, &recordingHandler{})
	unknown := testKey(t, 99)
	err := server.Send(unknown, dispatch.Envelope{Type: dispatch.TagApproval})
	require.ErrorIs(t, err, ErrUnknownPeer)
}
