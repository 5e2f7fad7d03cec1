package upgrade

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/wg-upgrade/internal/config"
)

// copyFile copies src to dst, creating the parent directory, and syncs dst.
func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(dst), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err = out.Sync(); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}
