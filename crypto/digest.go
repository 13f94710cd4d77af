package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DigestAlgorithm identifies the hash function a Digest was produced with.
// Blake3 is reserved for high-throughput subjects; only SHA256 is wired
// today, but the tag keeps digests self-describing on the wire.
type DigestAlgorithm string

const (
	DigestSHA256 DigestAlgorithm = "sha256"
)

// Digest is a content-addressable identifier: an algorithm tag plus the raw
// hash bytes. Equality and ordering operate on the byte representation, so
// Digest is safe to use as a map key once converted with String.
type Digest struct {
	Algorithm DigestAlgorithm `json:"algorithm"`
	Value     []byte          `json:"value"`
}

// EmptyDigest is the zero value, used to mark "no governance" (a subject
// that is itself a governance) or "no previous event" (genesis).
var EmptyDigest = Digest{}

// IsEmpty reports whether d carries no hash material.
func (d Digest) IsEmpty() bool {
	return len(d.Value) == 0
}

// Equal compares two digests by algorithm and byte value.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Value, other.Value)
}

// Compare orders digests by algorithm, then by raw bytes.
func (d Digest) Compare(other Digest) int {
	if d.Algorithm != other.Algorithm {
		if d.Algorithm < other.Algorithm {
			return -1
		}
		return 1
	}
	return bytes.Compare(d.Value, other.Value)
}

// String renders the digest as "<algorithm>:<hex>", the canonical form
// used in storage keys and log lines.
func (d Digest) String() string {
	if d.IsEmpty() {
		return ""
	}
	return fmt.Sprintf("%s:%s", d.Algorithm, hex.EncodeToString(d.Value))
}

// DigestJSON hashes the canonical JSON encoding of v. Every core entity's
// content-addressed identifier is derived this way: marshal, then hash,
// rather than a bespoke binary encoder.
func DigestJSON(v any) (Digest, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Digest{}, fmt.Errorf("crypto: canonical marshal: %w", err)
	}
	sum := sha256.Sum256(b)
	return Digest{Algorithm: DigestSHA256, Value: sum[:]}, nil
}

// MustDigestJSON is DigestJSON for call sites that already proved v encodes
// (e.g. because the bytes were just unmarshalled from storage).
func MustDigestJSON(v any) Digest {
	d, err := DigestJSON(v)
	if err != nil {
		panic(err)
	}
	return d
}
