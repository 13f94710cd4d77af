package network

import "errors"

// ErrInvalidPayload indicates a peer supplied a syntactically correct frame
// whose contents could not be trusted: a malformed handshake, a replayed
// nonce, or a signature that does not verify.
var ErrInvalidPayload = errors.New("network: invalid payload")

// ErrPeerBanned is returned when a dial or inbound connection is refused
// because the remote identity is currently banned.
var ErrPeerBanned = errors.New("network: peer is banned")

// ErrUnknownPeer is returned by Send when no connection is held open to
// the requested target.
var ErrUnknownPeer = errors.New("network: no connection to peer")

// IsInvalidPayload reports whether err originated from a malformed or
// untrustworthy payload.
func IsInvalidPayload(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}
