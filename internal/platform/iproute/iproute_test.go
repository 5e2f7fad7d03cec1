package iproute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/platform/shell/shelltest"
)

const showOutput = `5: wg0    inet 10.0.0.1/24 scope global wg0\       valid_lft forever preferred_lft forever
5: wg0    inet6 fd00::1/64 scope global \       valid_lft forever preferred_lft forever
`

// TestAddresses parses one-line output of both families.
func TestAddresses(t *testing.T) {
	t.Parallel()

	fake := shelltest.New().On("/sbin/ip -o address show dev wg0", showOutput)

	addrs, err := New(fake, "").Addresses(context.Background(), "wg0")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		"10.0.0.1/24": {},
		"fd00::1/64":  {},
	}, addrs)
}

// TestAddresses_Failure wraps the command error.
func TestAddresses_Failure(t *testing.T) {
	t.Parallel()

	fake := shelltest.New().Fail("/sbin/ip -o address show dev wg9", 1)

	_, err := New(fake, "").Addresses(context.Background(), "wg9")
	require.Error(t, err)
}

// TestAddAddress runs ip address add.
func TestAddAddress(t *testing.T) {
	t.Parallel()

	fake := shelltest.New().On("/usr/sbin/ip address add 10.0.0.1/24 dev wg0", "")

	require.NoError(t, New(fake, "/usr/sbin/ip").AddAddress(context.Background(), "wg0", "10.0.0.1/24"))
	require.Equal(t, []string{"/usr/sbin/ip address add 10.0.0.1/24 dev wg0"}, fake.Calls())
}

// TestParseAddresses_Empty returns an empty set.
func TestParseAddresses_Empty(t *testing.T) {
	t.Parallel()

	require.Empty(t, ParseAddresses(""))
}

// TestCanonical matches the kernel's notation.
func TestCanonical(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"10.0.0.1/24":        "10.0.0.1/24",
		"fd00:0:0::1/64":     "fd00::1/64",
		"FD00:0000::0001/64": "fd00::1/64",
		" 10.0.0.1/24 ":      "10.0.0.1/24",
		"10.0.0.1":           "10.0.0.1",
		"not-an-address":     "not-an-address",
	}

	for in, want := range cases {
		require.Equal(t, want, Canonical(in), in)
	}
}

// TestParseAddresses_Canonical rewrites addresses into canonical form.
func TestParseAddresses_Canonical(t *testing.T) {
	t.Parallel()

	out := "5: wg0    inet6 FD00:0:0::1/64 scope global \\       valid_lft forever\n"

	require.Equal(t, map[string]struct{}{"fd00::1/64": {}}, ParseAddresses(out))
}
