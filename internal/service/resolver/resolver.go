package resolver

import (
	"context"
	"fmt"

	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

// Index lists releases newest first.
type Index interface {
	Releases(ctx context.Context) ([]release.Release, error)
}

// VersionSource reports the installed version of a package, "" when absent.
type VersionSource interface {
	InstalledVersion(ctx context.Context, name string) (string, error)
}

// Decision is the outcome of a resolution.
type Decision struct {
	// Release is the chosen release.
	Release release.Release
	// Installed is the installed package version, empty when absent.
	Installed string
	// UpgradeNeeded is set when Release should be installed.
	UpgradeNeeded bool
	// Pinned is set when the caller asked for a specific tag.
	Pinned bool
}

// Resolver picks the release to install.
type Resolver struct {
	index    Index
	versions VersionSource
	pkg      string
}

// New returns a Resolver for package pkg.
func New(index Index, versions VersionSource, pkg string) *Resolver {
	return &Resolver{
		index:    index,
		versions: versions,
		pkg:      pkg,
	}
}

// Installed returns the installed version of the managed package.
func (r *Resolver) Installed(ctx context.Context) (string, error) {
	installed, err := r.versions.InstalledVersion(ctx, r.pkg)
	if err != nil {
		return "", upgrade.Fail(upgrade.StageProbe, upgrade.ErrEnvironment, err, shell.ExitStatus(err))
	}

	return installed, nil
}

// Resolve chooses the newest release, or the one tagged pin when pin is set.
// A pinned release is always installed, even when it is not newer.
func (r *Resolver) Resolve(ctx context.Context, installed, pin string) (Decision, error) {
	releases, err := r.index.Releases(ctx)
	if err != nil {
		return Decision{}, upgrade.Fail(upgrade.StageResolve, upgrade.ErrReleaseIndex, err, -1)
	}

	if pin != "" {
		chosen, ok := release.FindTag(releases, pin)
		if !ok {
			return Decision{}, upgrade.Fail(upgrade.StageResolve, upgrade.ErrReleaseNotFound,
				fmt.Errorf("tag %q is not in the release index", pin), -1)
		}

		logger.InfoKV(ctx, "Using requested release", "tag", chosen.Tag, "installed", installed)

		return Decision{
			Release:       chosen,
			Installed:     installed,
			UpgradeNeeded: true,
			Pinned:        true,
		}, nil
	}

	latest, ok := release.Latest(releases)
	if !ok {
		return Decision{}, upgrade.Fail(upgrade.StageResolve, upgrade.ErrReleaseIndex, errEmptyIndex, -1)
	}

	newer, err := release.IsNewer(installed, latest.Tag)
	if err != nil {
		return Decision{}, upgrade.Fail(upgrade.StageResolve, upgrade.ErrReleaseIndex, err, -1)
	}

	logger.InfoKV(ctx, "Resolved latest release", "tag", latest.Tag, "installed", installed, "upgrade", newer)

	return Decision{
		Release:       latest,
		Installed:     installed,
		UpgradeNeeded: newer,
	}, nil
}
