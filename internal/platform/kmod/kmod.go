package kmod

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

// DefaultModulesFile lists loaded modules.
const DefaultModulesFile = "/proc/modules"

// Control reads the module table and unloads modules with modprobe.
type Control struct {
	exec        shell.Executor
	modulesFile string
}

// New returns a Control reading modulesFile ("" means /proc/modules).
func New(exec shell.Executor, modulesFile string) *Control {
	if modulesFile == "" {
		modulesFile = DefaultModulesFile
	}

	return &Control{
		exec:        exec,
		modulesFile: modulesFile,
	}
}

// IsLoaded reports whether the module is in the kernel module table.
func (c *Control) IsLoaded(_ context.Context, name string) (bool, error) {
	f, err := os.Open(filepath.Clean(c.modulesFile))
	if err != nil {
		return false, fmt.Errorf("read module table: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	// Module names use underscores in the table, dashes are accepted by modprobe.
	want := strings.ReplaceAll(name, "-", "_")

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == want {
			return true, nil
		}
	}

	if err = scanner.Err(); err != nil {
		return false, fmt.Errorf("scan module table: %w", err)
	}

	return false, nil
}

// Unload removes the module from the kernel.
func (c *Control) Unload(ctx context.Context, name string) error {
	if _, err := c.exec.Run(ctx, "modprobe", "--remove", name); err != nil {
		return fmt.Errorf("unload %s: %w", name, err)
	}

	return nil
}
