package signer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfigTOML = `
network = "testnet"
node_host = "http://127.0.0.1:20443"
endpoint = "127.0.0.1:30000"
ecdsa_private_key = "0101010101010101010101010101010101010101010101010101010101010101"
stacks_private_key = "0202020202020202020202020202020202020202020202020202020202020202"
event_timeout_seconds = 10
dkg_end_timeout_seconds = 100
tx_fee_micro_stx = 10000
`

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signer.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigResolvesFields(t *testing.T) {
	path := writeTestConfig(t, testConfigTOML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, NetworkTestnet, cfg.Network)
	require.Equal(t, "http://127.0.0.1:20443", cfg.NodeHost)
	require.Equal(t, "127.0.0.1:30000", cfg.EndpointBindAddress)
	require.Equal(t, 10*time.Second, cfg.EventTimeout)
	require.Equal(t, 100*time.Second, cfg.DKGEndTimeout)
	require.Equal(t, uint64(10000), cfg.TxFeeMicroSTX)
	require.NotNil(t, cfg.EcdsaPrivateKey)
	require.NotNil(t, cfg.StacksPrivateKey)
}

func TestLoadConfigAppliesDefaultsForUnsetTimeouts(t *testing.T) {
	path := writeTestConfig(t, `
node_host = "http://127.0.0.1:20443"
ecdsa_private_key = "0101010101010101010101010101010101010101010101010101010101010101"
stacks_private_key = "0202020202020202020202020202020202020202020202020202020202020202"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, NetworkMainnet, cfg.Network, "network defaults to mainnet when unset")
	require.Equal(t, 5*time.Second, cfg.EventTimeout)
	require.Equal(t, 200*time.Second, cfg.DKGEndTimeout)
	require.Equal(t, "127.0.0.1:30000", cfg.EndpointBindAddress)
}

func TestLoadConfigRejectsUnknownNetwork(t *testing.T) {
	path := writeTestConfig(t, `
network = "regtest"
node_host = "http://127.0.0.1:20443"
ecdsa_private_key = "01"
stacks_private_key = "02"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}
