package crypto

import (
	"crypto/ecdsa"
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable bech32 prefix for a subject's public
// address form.
type AddressPrefix string

const SubjectPrefix AddressPrefix = "taple"

const (
	ed25519PublicKeySize   = stded25519.PublicKeySize
	secp256k1PublicKeySize = 33 // compressed form, as produced by CompressPubkey
)

// Address is a bech32-encoded rendering of a KeyIdentifier's public bytes,
// for display and config files. It carries no cryptographic meaning beyond
// the KeyIdentifier it was derived from.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte { return append([]byte(nil), a.bytes...) }

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 address: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 address: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// PrivateKey holds a node's signing material for one of the two supported
// schemes. Exactly one of secp/ed is populated, selected by scheme.
type PrivateKey struct {
	scheme Scheme
	secp   []byte // ECDSA scalar, go-ethereum form
	ed     stded25519.PrivateKey
}

// GeneratePrivateKey creates fresh signing material for the given scheme.
func GeneratePrivateKey(scheme Scheme) (*PrivateKey, error) {
	switch scheme {
	case Secp256k1:
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return &PrivateKey{scheme: Secp256k1, secp: ethcrypto.FromECDSA(key)}, nil
	case Ed25519:
		_, priv, err := stded25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &PrivateKey{scheme: Ed25519, ed: priv}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported key scheme %q", scheme)
	}
}

func PrivateKeyFromBytes(scheme Scheme, b []byte) (*PrivateKey, error) {
	switch scheme {
	case Secp256k1:
		if _, err := ethcrypto.ToECDSA(b); err != nil {
			return nil, err
		}
		return &PrivateKey{scheme: Secp256k1, secp: append([]byte(nil), b...)}, nil
	case Ed25519:
		if len(b) != stded25519.SeedSize && len(b) != stded25519.PrivateKeySize {
			return nil, fmt.Errorf("crypto: ed25519 private key must be seed or full form")
		}
		var priv stded25519.PrivateKey
		if len(b) == stded25519.SeedSize {
			priv = stded25519.NewKeyFromSeed(b)
		} else {
			priv = append(stded25519.PrivateKey(nil), b...)
		}
		return &PrivateKey{scheme: Ed25519, ed: priv}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported key scheme %q", scheme)
	}
}

// Scheme reports which signature scheme this key uses.
func (k *PrivateKey) Scheme() Scheme { return k.scheme }

// Bytes returns the raw private key material.
func (k *PrivateKey) Bytes() []byte {
	switch k.scheme {
	case Secp256k1:
		return append([]byte(nil), k.secp...)
	case Ed25519:
		return append([]byte(nil), k.ed...)
	default:
		return nil
	}
}

// KeyIdentifier returns the public identifier derived from this private key.
func (k *PrivateKey) KeyIdentifier() KeyIdentifier {
	switch k.scheme {
	case Secp256k1:
		ecdsaKey, err := ethcrypto.ToECDSA(k.secp)
		if err != nil {
			panic(err)
		}
		kid, err := NewKeyIdentifier(Secp256k1, ethcrypto.CompressPubkey(&ecdsaKey.PublicKey))
		if err != nil {
			panic(err)
		}
		return kid
	case Ed25519:
		pub := k.ed.Public().(stded25519.PublicKey)
		kid, err := NewKeyIdentifier(Ed25519, pub)
		if err != nil {
			panic(err)
		}
		return kid
	default:
		return KeyIdentifier{}
	}
}

// Address renders the key identifier's public bytes as a bech32 address.
func (k *PrivateKey) Address() Address {
	return NewAddress(SubjectPrefix, k.KeyIdentifier().Public)
}

func ecdsaFromBytes(b []byte) (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(b)
}

func cryptoFromECDSA(key *keystore.Key) []byte {
	return ethcrypto.FromECDSA(key.PrivateKey)
}
