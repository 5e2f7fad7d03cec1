package kmod

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
	"github.com/oshokin/wg-upgrade/internal/platform/shell/shelltest"
)

const modules = `ip6_udp_tunnel 2016 1 wireguard, Live 0xffffffffc0a6e000
wireguard 208896 0 - Live 0xffffffffc0a00000
udp_tunnel 3688 1 wireguard, Live 0xffffffffc09fc000
`

// TestIsLoaded scans the module table.
func TestIsLoaded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "modules")
	require.NoError(t, os.WriteFile(path, []byte(modules), 0o600))

	c := New(shelltest.New(), path)

	loaded, err := c.IsLoaded(context.Background(), "wireguard")
	require.NoError(t, err)
	require.True(t, loaded)

	loaded, err = c.IsLoaded(context.Background(), "udp-tunnel")
	require.NoError(t, err)
	require.True(t, loaded)

	loaded, err = c.IsLoaded(context.Background(), "wire")
	require.NoError(t, err)
	require.False(t, loaded)
}

// TestIsLoaded_MissingTable reports the read failure.
func TestIsLoaded_MissingTable(t *testing.T) {
	t.Parallel()

	_, err := New(shelltest.New(), filepath.Join(t.TempDir(), "none")).IsLoaded(context.Background(), "wireguard")
	require.Error(t, err)
}

// TestUnload runs modprobe and keeps its exit status.
func TestUnload(t *testing.T) {
	t.Parallel()

	fake := shelltest.New().On("modprobe --remove wireguard", "")
	require.NoError(t, New(fake, "").Unload(context.Background(), "wireguard"))

	fake = shelltest.New().Fail("modprobe --remove wireguard", 1)
	err := New(fake, "").Unload(context.Background(), "wireguard")
	require.Error(t, err)
	require.Equal(t, 1, shell.ExitStatus(err))
}
