package iproute

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

// DefaultTool is the iproute2 binary.
const DefaultTool = "/sbin/ip"

// Control lists and adds interface addresses.
type Control struct {
	exec shell.Executor
	tool string
}

// New returns a Control running tool ("" means /sbin/ip).
func New(exec shell.Executor, tool string) *Control {
	if tool == "" {
		tool = DefaultTool
	}

	return &Control{
		exec: exec,
		tool: tool,
	}
}

// Addresses returns the addresses in CIDR form currently present on iface.
func (c *Control) Addresses(ctx context.Context, iface string) (map[string]struct{}, error) {
	out, err := c.exec.Run(ctx, c.tool, "-o", "address", "show", "dev", iface)
	if err != nil {
		return nil, fmt.Errorf("list addresses of %s: %w", iface, err)
	}

	return ParseAddresses(string(out)), nil
}

// AddAddress assigns addr to iface directly in the kernel.
func (c *Control) AddAddress(ctx context.Context, iface, addr string) error {
	if _, err := c.exec.Run(ctx, c.tool, "address", "add", addr, "dev", iface); err != nil {
		return fmt.Errorf("add %s to %s: %w", addr, iface, err)
	}

	return nil
}

// ParseAddresses extracts inet and inet6 addresses from `ip -o address show` output.
func ParseAddresses(out string) map[string]struct{} {
	addrs := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] == "inet" || fields[i] == "inet6" {
				addrs[Canonical(fields[i+1])] = struct{}{}

				break
			}
		}
	}

	return addrs
}

// Canonical rewrites an address in CIDR form the way the kernel prints it,
// e.g. "fd00:0:0::1/64" becomes "fd00::1/64". Unparseable input is returned as is.
func Canonical(addr string) string {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(addr))
	if err != nil {
		return addr
	}

	return prefix.String()
}
