// Package config loads the node's TOML configuration file, generating a
// default one (with a freshly minted node key) the first time a data
// directory is used, supporting the dual-scheme KeyIdentifier scheme/model.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// Config is a node's full runtime configuration.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	MetricsAddress string   `toml:"MetricsAddress"`
	DataDir        string   `toml:"DataDir"`
	NodeKeyScheme  string   `toml:"NodeKeyScheme"`
	NodeKey        string   `toml:"NodeKey"`
	BootstrapPeers []string `toml:"BootstrapPeers"`

	// KeystorePath, when set, names a passphrase-protected keystore file
	// (crypto.SaveToKeystore/LoadFromKeystore) that holds the node's
	// identity instead of NodeKey. The passphrase is never stored in
	// config; the composition root takes it from SUBJECTD_KEYSTORE_PASSPHRASE
	// when set, and otherwise prompts for it on a terminal.
	KeystorePath string `toml:"KeystorePath"`

	// BootstrapGovernanceID names the governance subject this node treats
	// as the root of trust when it has no other subjects yet.
	BootstrapGovernanceID string `toml:"BootstrapGovernanceID"`

	Tasks TasksConfig `toml:"Tasks"`
	Log   LogConfig   `toml:"Log"`
}

// TasksConfig is decoded from the [Tasks] table; cmd/subjectd does not pass
// it to the message-task manager.
type TasksConfig struct {
	ReplicationFactor int           `toml:"ReplicationFactor"`
	Timeout           time.Duration `toml:"Timeout"`
	MaxRetries        int           `toml:"MaxRetries"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Service    string `toml:"Service"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

func defaultConfig() (*Config, error) {
	key, err := crypto.GeneratePrivateKey(crypto.Ed25519)
	if err != nil {
		return nil, err
	}
	return &Config{
		ListenAddress:  ":6001",
		MetricsAddress: ":9464",
		DataDir:        "./subjectchain-data",
		NodeKeyScheme:  string(crypto.Ed25519),
		NodeKey:        hex.EncodeToString(key.Bytes()),
		BootstrapPeers: []string{},
		Tasks: TasksConfig{
			ReplicationFactor: 3,
			Timeout:           2 * time.Second,
			MaxRetries:        3,
		},
		Log: LogConfig{Service: "subjectd"},
	}, nil
}

// Load reads the TOML configuration at path, creating a default one (with a
// freshly generated node key) if the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := defaultConfig()
		if err != nil {
			return nil, err
		}
		if err := save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.NodeKey == "" {
		key, err := crypto.GeneratePrivateKey(crypto.Ed25519)
		if err != nil {
			return nil, err
		}
		cfg.NodeKeyScheme = string(crypto.Ed25519)
		cfg.NodeKey = hex.EncodeToString(key.Bytes())
		if err := save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// PrivateKey decodes the node's configured key.
func (c *Config) PrivateKey() (*crypto.PrivateKey, error) {
	raw, err := hex.DecodeString(c.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("config: NodeKey is not valid hex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(crypto.Scheme(c.NodeKeyScheme), raw)
}

func save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
