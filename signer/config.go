package signer

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Network distinguishes which Stacks chain this signer votes on; it governs
// address versioning and which contract identifiers the stacker-db
// subscriptions target.
type Network int

const (
	NetworkMainnet Network = iota
	NetworkTestnet
)

func (n Network) IsMainnet() bool { return n == NetworkMainnet }

func (n Network) String() string {
	if n == NetworkMainnet {
		return "mainnet"
	}
	return "testnet"
}

// GlobalConfig is the resolved, in-memory configuration for a signer
// process: one process runs the run loop for at most two reward cycles'
// worth of signer instances at a time.
type GlobalConfig struct {
	Network              Network
	NodeHost             string
	EndpointBindAddress  string
	EcdsaPrivateKey      *btcec.PrivateKey
	StacksPrivateKey     *btcec.PrivateKey
	EventTimeout         time.Duration
	DKGEndTimeout        time.Duration
	DKGPublicTimeout     time.Duration
	DKGPrivateTimeout    time.Duration
	NonceTimeout         time.Duration
	SignTimeout          time.Duration
	TxFeeMicroSTX        uint64
}

// fileConfig is the literal shape of the on-disk TOML file. Durations are
// stored as plain integer seconds; resolve() converts them to
// time.Duration.
type fileConfig struct {
	Network                  string `toml:"network"`
	NodeHost                 string `toml:"node_host"`
	EndpointBindAddress      string `toml:"endpoint"`
	EcdsaPrivateKey          string `toml:"ecdsa_private_key"`
	StacksPrivateKey         string `toml:"stacks_private_key"`
	EventTimeoutSeconds      int64  `toml:"event_timeout_seconds"`
	DKGEndTimeoutSeconds     int64  `toml:"dkg_end_timeout_seconds"`
	DKGPublicTimeoutSeconds  int64  `toml:"dkg_public_timeout_seconds"`
	DKGPrivateTimeoutSeconds int64  `toml:"dkg_private_timeout_seconds"`
	NonceTimeoutSeconds      int64  `toml:"nonce_timeout_seconds"`
	SignTimeoutSeconds       int64  `toml:"sign_timeout_seconds"`
	TxFeeMicroSTX            uint64 `toml:"tx_fee_micro_stx"`
}

// LoadConfig reads a TOML config file from path and resolves it into a
// GlobalConfig.
func LoadConfig(path string) (*GlobalConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("signer: loading config file: %w", err)
	}
	return fc.resolve()
}

func (fc fileConfig) resolve() (*GlobalConfig, error) {
	cfg := &GlobalConfig{
		NodeHost:            fc.NodeHost,
		EndpointBindAddress: fc.EndpointBindAddress,
		EventTimeout:        seconds(fc.EventTimeoutSeconds, 5),
		DKGEndTimeout:       seconds(fc.DKGEndTimeoutSeconds, 200),
		DKGPublicTimeout:    seconds(fc.DKGPublicTimeoutSeconds, 200),
		DKGPrivateTimeout:   seconds(fc.DKGPrivateTimeoutSeconds, 200),
		NonceTimeout:        seconds(fc.NonceTimeoutSeconds, 30),
		SignTimeout:         seconds(fc.SignTimeoutSeconds, 30),
		TxFeeMicroSTX:       fc.TxFeeMicroSTX,
	}

	switch fc.Network {
	case "", "mainnet":
		cfg.Network = NetworkMainnet
	case "testnet":
		cfg.Network = NetworkTestnet
	default:
		return nil, fmt.Errorf("signer: unrecognized network %q", fc.Network)
	}

	ecdsaKey, err := parsePrivateKeyHex(fc.EcdsaPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: ecdsa_private_key: %w", err)
	}
	cfg.EcdsaPrivateKey = ecdsaKey

	stacksKey, err := parsePrivateKeyHex(fc.StacksPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: stacks_private_key: %w", err)
	}
	cfg.StacksPrivateKey = stacksKey

	if cfg.EndpointBindAddress == "" {
		cfg.EndpointBindAddress = "127.0.0.1:30000"
	}
	return cfg, nil
}

func seconds(v int64, fallback int64) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func parsePrivateKeyHex(s string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return btcec.PrivKeyFromBytes(raw), nil
}
