package crypto

import (
	stded25519 "crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrVerification is the sentinel cryptographic failure: a signer,
// content-digest or scheme mismatch, a signature that does not verify, or
// a malformed signature or public-key length. Cryptographic
// failures are local-fatal for the item carrying them and are never
// retried.
var ErrVerification = errors.New("crypto: signature verification failed")

// Signature binds a signer, a content digest, and when the signature was
// produced, to the raw signature bytes.
type Signature struct {
	Signer    KeyIdentifier `json:"signer"`
	Content   Digest        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Value     SignatureIdentifier `json:"value"`
}

// Sign produces a Signature over contentHash using key, tagging the result
// with key's scheme so a verifier never has to guess the algorithm.
func Sign(key *PrivateKey, content Digest) (Signature, error) {
	hash := content.Value
	if len(hash) == 0 {
		return Signature{}, errors.New("crypto: cannot sign an empty digest")
	}
	raw, err := signRaw(key, hash)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Signer:    key.KeyIdentifier(),
		Content:   content,
		Timestamp: time.Now().UTC(),
		Value:     SignatureIdentifier{Scheme: key.scheme, Value: raw},
	}, nil
}

func signRaw(key *PrivateKey, hash []byte) ([]byte, error) {
	switch key.scheme {
	case Secp256k1:
		ecdsaKey, err := ethcrypto.ToECDSA(key.secp)
		if err != nil {
			return nil, err
		}
		digest := ensureHashLen(hash)
		return ethcrypto.Sign(digest, ecdsaKey)
	case Ed25519:
		return stded25519.Sign(key.ed, hash), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported key scheme %q", key.scheme)
	}
}

// Verify checks that sig was produced by signer over content. It is the
// sole place signature-scheme dispatch happens for verification.
func Verify(signer KeyIdentifier, content Digest, sig Signature) error {
	if !sig.Signer.Equal(signer) {
		return fmt.Errorf("%w: signer mismatch", ErrVerification)
	}
	if !sig.Content.Equal(content) {
		return fmt.Errorf("%w: content digest mismatch", ErrVerification)
	}
	if sig.Value.Scheme != signer.Scheme {
		return fmt.Errorf("%w: scheme mismatch", ErrVerification)
	}
	hash := content.Value
	switch signer.Scheme {
	case Secp256k1:
		if len(sig.Value.Value) != 65 {
			return fmt.Errorf("%w: invalid secp256k1 signature length", ErrVerification)
		}
		digest := ensureHashLen(hash)
		if !ethcrypto.VerifySignature(signer.Public, digest, sig.Value.Value[:64]) {
			return fmt.Errorf("%w: secp256k1 signature does not verify", ErrVerification)
		}
		return nil
	case Ed25519:
		if len(signer.Public) != stded25519.PublicKeySize {
			return fmt.Errorf("%w: invalid ed25519 public key length", ErrVerification)
		}
		if !stded25519.Verify(signer.Public, hash, sig.Value.Value) {
			return fmt.Errorf("%w: ed25519 signature does not verify", ErrVerification)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrVerification, signer.Scheme)
	}
}

// ensureHashLen returns a 32-byte hash unchanged and re-hashes input of any
// other length with sha256, since secp256k1 signing takes exactly 32 bytes.
func ensureHashLen(hash []byte) []byte {
	if len(hash) == 32 {
		return hash
	}
	sum := sha256.Sum256(hash)
	return sum[:]
}
