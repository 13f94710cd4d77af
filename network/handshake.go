package network

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/opencanarias-go/subjectchain/crypto"
)

const handshakeTimeout = 5 * time.Second

// handshakeHello is the first frame each side of a connection sends: who it
// claims to be, and a nonce the peer must sign back to prove possession of
// the matching private key.
type handshakeHello struct {
	NodeID crypto.KeyIdentifier `json:"node_id"`
	Nonce  []byte               `json:"nonce"`
}

// handshakeAuth answers the peer's hello: a signature over the nonce it
// sent, proving this side holds NodeID's private key.
type handshakeAuth struct {
	Signature crypto.Signature `json:"signature"`
}

func nonceDigest(nonce []byte) crypto.Digest {
	sum := sha256.Sum256(nonce)
	return crypto.Digest{Algorithm: crypto.DigestSHA256, Value: sum[:]}
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("network: generate handshake nonce: %w", err)
	}
	return nonce, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrameBytes(w, b)
}

// writeFrameBytes writes an already-encoded payload with the same 4-byte
// length prefix used for envelope frames, so handshake messages share the
// wire framing with the rest of the connection.
func writeFrameBytes(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readJSON(r io.Reader, v any) error {
	buf, err := readFrameBytes(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func readFrameBytes(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d out of bounds", ErrInvalidPayload, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// runHandshake performs the mutual challenge described on handshakeHello,
// returning the verified identity of the remote side. guard rejects a
// nonce this node has already seen from remote, closing the replay window
// a restarted or man-in-the-middled peer could otherwise reuse.
func runHandshake(rw io.ReadWriter, self *Identity, guard *replayGuard) (crypto.KeyIdentifier, error) {
	myNonce, err := newNonce()
	if err != nil {
		return crypto.KeyIdentifier{}, err
	}
	if err := writeJSON(rw, handshakeHello{NodeID: self.NodeID, Nonce: myNonce}); err != nil {
		return crypto.KeyIdentifier{}, err
	}

	var theirHello handshakeHello
	if err := readJSON(rw, &theirHello); err != nil {
		return crypto.KeyIdentifier{}, err
	}
	if len(theirHello.Nonce) == 0 {
		return crypto.KeyIdentifier{}, fmt.Errorf("%w: empty handshake nonce", ErrInvalidPayload)
	}
	if guard != nil && !guard.Remember(theirHello.NodeID.String(), theirHello.Nonce) {
		return crypto.KeyIdentifier{}, fmt.Errorf("%w: replayed handshake nonce", ErrInvalidPayload)
	}

	mySig, err := crypto.Sign(self.PrivateKey, nonceDigest(theirHello.Nonce))
	if err != nil {
		return crypto.KeyIdentifier{}, err
	}
	if err := writeJSON(rw, handshakeAuth{Signature: mySig}); err != nil {
		return crypto.KeyIdentifier{}, err
	}

	var theirAuth handshakeAuth
	if err := readJSON(rw, &theirAuth); err != nil {
		return crypto.KeyIdentifier{}, err
	}
	if err := crypto.Verify(theirHello.NodeID, nonceDigest(myNonce), theirAuth.Signature); err != nil {
		return crypto.KeyIdentifier{}, fmt.Errorf("%w: handshake signature: %v", ErrInvalidPayload, err)
	}
	return theirHello.NodeID, nil
}
