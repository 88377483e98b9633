package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestResolveServer covers flag precedence and loopback substitution.
func TestResolveServer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "alarm-monitor.yaml")

	settings := `station: OTY
grpc:
  listen_address: ":50051"
  timeout: 3s
transport:
  kind: nats
  nats:
    url: nats://127.0.0.1:4222
storage:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	address, timeout, err := resolveServer("", path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:50051", address)
	require.Equal(t, 3*time.Second, timeout)

	address, _, err = resolveServer("monitor:9000", path)
	require.NoError(t, err)
	require.Equal(t, "monitor:9000", address)

	// The flag works without a configuration file.
	address, _, err = resolveServer("monitor:9000", filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "monitor:9000", address)

	_, _, err = resolveServer("", filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "load settings")
}

// TestResolveServer_NoGRPC reports a missing address when gRPC is disabled.
func TestResolveServer_NoGRPC(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarm-monitor.yaml")

	settings := `station: OTY
transport:
  kind: nats
  nats:
    url: nats://127.0.0.1:4222
storage:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	_, _, err := resolveServer("", path)
	require.ErrorIs(t, err, errServerAddressRequired)
}
