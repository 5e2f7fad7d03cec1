package transition

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/oshokin/wg-upgrade/internal/config"
)

// writeDurable writes data to path and flushes it to stable storage.
func writeDurable(path string, data []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	if _, err = f.Write(data); err != nil {
		_ = f.Close()

		return fmt.Errorf("write snapshot: %w", err)
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()

		return fmt.Errorf("sync snapshot: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	return nil
}

// callerOf returns file:line skip frames above its caller.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}

	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
