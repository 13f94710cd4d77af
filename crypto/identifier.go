package crypto

import (
	"encoding/hex"
	"fmt"
)

// Scheme enumerates the cryptographic schemes a KeyIdentifier or
// SignatureIdentifier can carry, as a first-class identifier tag rather
// than a detail buried in a single call site.
type Scheme string

const (
	Ed25519   Scheme = "ed25519"
	Secp256k1 Scheme = "secp256k1"
)

func (s Scheme) valid() bool {
	return s == Ed25519 || s == Secp256k1
}

// KeyIdentifier tags a raw public key with the scheme needed to interpret
// it. Subjects, members and signers are all addressed by KeyIdentifier.
type KeyIdentifier struct {
	Scheme Scheme `json:"scheme"`
	Public []byte `json:"public"`
}

// NewKeyIdentifier validates the scheme/key-length pairing before wrapping.
func NewKeyIdentifier(scheme Scheme, public []byte) (KeyIdentifier, error) {
	if !scheme.valid() {
		return KeyIdentifier{}, fmt.Errorf("crypto: unsupported key scheme %q", scheme)
	}
	switch scheme {
	case Ed25519:
		if len(public) != ed25519PublicKeySize {
			return KeyIdentifier{}, fmt.Errorf("crypto: ed25519 public key must be %d bytes, got %d", ed25519PublicKeySize, len(public))
		}
	case Secp256k1:
		if len(public) != secp256k1PublicKeySize {
			return KeyIdentifier{}, fmt.Errorf("crypto: secp256k1 public key must be %d bytes, got %d", secp256k1PublicKeySize, len(public))
		}
	}
	cloned := append([]byte(nil), public...)
	return KeyIdentifier{Scheme: scheme, Public: cloned}, nil
}

// String renders "<scheme>:<hex>", used as map keys for signer sets.
func (k KeyIdentifier) String() string {
	return fmt.Sprintf("%s:%s", k.Scheme, hex.EncodeToString(k.Public))
}

// Equal compares scheme and raw key bytes.
func (k KeyIdentifier) Equal(other KeyIdentifier) bool {
	return k.Scheme == other.Scheme && string(k.Public) == string(other.Public)
}

// SignatureIdentifier tags a raw signature with the scheme used to produce
// it, mirroring KeyIdentifier.
type SignatureIdentifier struct {
	Scheme Scheme `json:"scheme"`
	Value  []byte `json:"value"`
}

func (s SignatureIdentifier) String() string {
	return fmt.Sprintf("%s:%s", s.Scheme, hex.EncodeToString(s.Value))
}
