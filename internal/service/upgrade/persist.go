package upgrade

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/service/fetcher"

	// Ensure SHA256 is available for checksum verification.
	_ "crypto/sha256"
)

// FirstbootFileMode is the mode of the persisted package.
const FirstbootFileMode os.FileMode = 0o644

var errNoChecksum = errors.New("package checksum is missing")

// FirstbootPersister places packages in the first-boot install directory.
type FirstbootPersister struct {
	dir      string
	filename string
}

// NewFirstbootPersister returns a persister writing dir/filename.
func NewFirstbootPersister(dir, filename string) *FirstbootPersister {
	return &FirstbootPersister{
		dir:      dir,
		filename: filename,
	}
}

// Target returns the persisted package path.
func (p *FirstbootPersister) Target() string {
	return filepath.Join(p.dir, p.filename)
}

// Persist swaps the package in atomically, verifying its checksum, and removes
// the downloaded copy.
func (p *FirstbootPersister) Persist(ctx context.Context, pkg fetcher.Package) error {
	if len(pkg.SHA256) == 0 {
		return errNoChecksum
	}

	target := p.Target()

	logger.InfoKV(ctx, "Keeping package for the next firmware reset", "path", target)

	if err := os.MkdirAll(p.dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create first-boot directory: %w", err)
	}

	if _, err := os.Stat(target); err != nil && os.IsNotExist(err) {
		placeholder, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		if createErr = placeholder.Close(); createErr != nil {
			return createErr
		}
	}

	data, err := os.Open(filepath.Clean(pkg.Path))
	if err != nil {
		return err
	}

	defer func() {
		_ = data.Close()
	}()

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: FirstbootFileMode,
		Checksum:   pkg.SHA256,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(data, options); err != nil {
		return fmt.Errorf("apply %s: %w", target, err)
	}

	if err = os.Remove(pkg.Path); err != nil && !os.IsNotExist(err) {
		logger.WarnKV(ctx, "Downloaded package was not removed", "path", pkg.Path, "error", err)
	}

	return nil
}
