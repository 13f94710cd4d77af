package network

import "github.com/prometheus/client_golang/prometheus"

var (
	peerScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "network_peer_score",
		Help: "Composite reputation score per connected peer.",
	}, []string{"peer"})

	handshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_handshakes_total",
		Help: "Handshake outcomes by result.",
	}, []string{"result"})

	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_frames_total",
		Help: "Frames processed by direction and tag.",
	}, []string{"direction", "tag"})

	connectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_connected_peers",
		Help: "Number of currently connected peers.",
	})
)

func init() {
	prometheus.MustRegister(peerScore, handshakesTotal, framesTotal, connectedPeers)
}
