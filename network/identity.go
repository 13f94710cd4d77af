package network

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// Identity is the persistent node identity used to authenticate handshakes
// and sign outbound frames.
type Identity struct {
	PrivateKey *crypto.PrivateKey
	NodeID     crypto.KeyIdentifier
}

type identityDisk struct {
	Scheme     crypto.Scheme `json:"scheme"`
	PrivateKey string        `json:"privateKey"`
}

// LoadOrCreateIdentity reads a node's signing key from path, generating one
// for scheme if the file does not yet exist. NodeID is the KeyIdentifier
// derived from the key, the address peers dial and sign against.
func LoadOrCreateIdentity(path string, scheme crypto.Scheme) (*Identity, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("network: identity path must be provided")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("network: create identity directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		return decodeIdentity(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("network: read identity file: %w", err)
	}

	privKey, err := crypto.GeneratePrivateKey(scheme)
	if err != nil {
		return nil, fmt.Errorf("network: generate identity key: %w", err)
	}
	encoded := identityDisk{Scheme: scheme, PrivateKey: hex.EncodeToString(privKey.Bytes())}
	payload, err := json.MarshalIndent(&encoded, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("network: encode identity: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return nil, fmt.Errorf("network: persist identity: %w", err)
	}
	return &Identity{PrivateKey: privKey, NodeID: privKey.KeyIdentifier()}, nil
}

func decodeIdentity(data []byte) (*Identity, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, fmt.Errorf("network: identity file empty")
	}
	var stored identityDisk
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("network: decode identity JSON: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(stored.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("network: decode identity key material: %w", err)
	}
	privKey, err := crypto.PrivateKeyFromBytes(stored.Scheme, raw)
	if err != nil {
		return nil, fmt.Errorf("network: parse identity key: %w", err)
	}
	return &Identity{PrivateKey: privKey, NodeID: privKey.KeyIdentifier()}, nil
}
