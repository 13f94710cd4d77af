package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencanarias-go/subjectchain/dispatch"
)

// Control-plane tags the network layer intercepts itself, never forwarded
// to dispatch.Dispatcher. Numbered well above dispatch's own tag range so
// the two spaces can never collide even as dispatch grows new message
// kinds.
const (
	tagPexRequest   dispatch.Tag = 200
	tagPexAddresses dispatch.Tag = 201
	tagPing         dispatch.Tag = 202
	tagPong         dispatch.Tag = 203
)

// pexRequest asks a peer for recently seen addresses.
type pexRequest struct {
	Limit int    `json:"limit"`
	Token string `json:"token"`
}

// pexAddress is one gossipable peer endpoint.
type pexAddress struct {
	Addr     string    `json:"addr"`
	NodeID   string    `json:"node_id"`
	LastSeen time.Time `json:"last_seen"`
}

// pexAddresses answers a pexRequest.
type pexAddresses struct {
	Token     string       `json:"token"`
	Addresses []pexAddress `json:"addresses"`
}

type pingMsg struct {
	Nonce uint64 `json:"nonce"`
}

type pongMsg struct {
	Nonce uint64 `json:"nonce"`
}

// encodeControl wraps a network-local control message in a dispatch.Envelope
// using the tag range this package owns, mirroring dispatch.Encode for the
// message kinds dispatch itself has no reason to know about.
func encodeControl(message any) (dispatch.Envelope, error) {
	var tag dispatch.Tag
	switch message.(type) {
	case pexRequest:
		tag = tagPexRequest
	case pexAddresses:
		tag = tagPexAddresses
	case pingMsg:
		tag = tagPing
	case pongMsg:
		tag = tagPong
	default:
		return dispatch.Envelope{}, fmt.Errorf("network: unsupported control message type %T", message)
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return dispatch.Envelope{}, fmt.Errorf("network: encoding %T: %w", message, err)
	}
	return dispatch.Envelope{Type: tag, Payload: payload}, nil
}

// isControlTag reports whether tag belongs to this package's own control
// range rather than dispatch's.
func isControlTag(tag dispatch.Tag) bool {
	switch tag {
	case tagPexRequest, tagPexAddresses, tagPing, tagPong:
		return true
	default:
		return false
	}
}
