package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// "lo" is used instead of "eth0" because it is virtually guaranteed to
// exist (and carry an IPv4 address) in any test environment, unlike a
// specific ethernet device name.
const validConfigBody = `interface lo
start 192.168.0.20
end 192.168.0.30
max_leases 10
`

func TestRunValidateAcceptsWellFormedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udhcpd.conf")
	require.NoError(t, os.WriteFile(path, []byte(validConfigBody), 0o644))

	configPath = path
	err := runValidate(validateCmd, nil)
	require.NoError(t, err)
}

func TestRootCommandRegistersExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["validate"])
}
