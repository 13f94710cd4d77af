package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// ed25519KeyFile is the on-disk shape for an Ed25519 signing key. There is
// no accounts/keystore support for non-ECDSA curves, so Ed25519 keys are
// held in a plain, permission-restricted file rather than an encrypted
// vault — the same trust model the node's TOML config already uses for
// its NodeKey field.
type ed25519KeyFile struct {
	Scheme Scheme `json:"scheme"`
	Seed   string `json:"seed"`
}

// SaveToKeystore persists key at path. Secp256k1 keys use an Ethereum v3
// encrypted keystore file; Ed25519 keys use a restricted-permission JSON
// file, since accounts/keystore only understands ECDSA curves.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}

	switch key.scheme {
	case Secp256k1:
		return saveSecp256k1Keystore(path, key, passphrase)
	case Ed25519:
		return saveEd25519KeyFile(path, key)
	default:
		return errors.New("crypto: unsupported key scheme")
	}
}

// LoadFromKeystore loads a key previously written by SaveToKeystore. The
// scheme is detected from the file's own contents, so callers do not need
// to know it up front.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var probe ed25519KeyFile
	if json.Unmarshal(raw, &probe) == nil && probe.Scheme == Ed25519 && probe.Seed != "" {
		seed, err := hex.DecodeString(probe.Seed)
		if err != nil {
			return nil, err
		}
		return PrivateKeyFromBytes(Ed25519, seed)
	}

	decrypted, err := keystore.DecryptKey(raw, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{scheme: Secp256k1, secp: cryptoFromECDSA(decrypted)}, nil
}

func saveSecp256k1Keystore(path string, key *PrivateKey, passphrase string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ecdsaKey, err := ecdsaFromBytes(key.secp)
	if err != nil {
		return err
	}
	ks := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(ecdsaKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}
	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func saveEd25519KeyFile(path string, key *PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	payload := ed25519KeyFile{Scheme: Ed25519, Seed: hex.EncodeToString(key.ed[:32])}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
