package upgrade

import (
	"context"
	"errors"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/dpkg"
	"github.com/oshokin/wg-upgrade/internal/platform/iproute"
	"github.com/oshokin/wg-upgrade/internal/platform/kmod"
	"github.com/oshokin/wg-upgrade/internal/platform/procs"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
	"github.com/oshokin/wg-upgrade/internal/platform/vyatta"
	"github.com/oshokin/wg-upgrade/internal/repository/journal"
	"github.com/oshokin/wg-upgrade/internal/service/fetcher"
	"github.com/oshokin/wg-upgrade/internal/service/probe"
	"github.com/oshokin/wg-upgrade/internal/service/resolver"
	"github.com/oshokin/wg-upgrade/internal/service/transition"
)

var errSettingsNotInitialised = errors.New("settings are not initialized")

// Options are inputs accepted by the upgrade entry points.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Version pins a release tag, empty means the latest release.
	Version string
	// Settings, when set, is used instead of loading ConfigPath.
	Settings *config.Config
	// Platform, when set, replaces the device's own tools.
	Platform *Platform
}

// Platform is how the coordinator reaches the device.
type Platform struct {
	// Exec runs configuration, network and module tools.
	Exec shell.Executor
	// PackageExec runs dpkg.
	PackageExec shell.Executor
	// BoardTool and VersionFile are the probe sources ("" means the device defaults).
	BoardTool   string
	VersionFile string
	// ModulesFile is the kernel module table ("" means /proc/modules).
	ModulesFile string
	// Processes looks for concurrent upgrades and package managers.
	Processes Guard
}

// DevicePlatform returns the platform of the running device.
func DevicePlatform() *Platform {
	exec := shell.NewExec()

	return &Platform{
		Exec:        exec,
		PackageExec: exec.WithEnv("DEBIAN_FRONTEND=noninteractive"),
		Processes:   procs.New(),
	}
}

// Run executes the upgrade and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (upgrade.Result, error) {
	ctx = logger.WithName(ctx, "wg-upgrade")

	cfg, err := loadSettings(opts)
	if err != nil {
		return upgrade.Result{}, err
	}

	result, err := NewDeviceCoordinator(cfg, opts.Platform).Upgrade(ctx, opts.Version)
	if err != nil {
		logger.ErrorKV(ctx, "Upgrade failed", "error", err)

		return result, err
	}

	logger.InfoKV(ctx, "Upgrade completed", "status", result.Status, "version", result.TargetVersion)

	return result, nil
}

// Check reports what Run would install without changing the device.
func Check(ctx context.Context, opts *Options) (Plan, error) {
	ctx = logger.WithName(ctx, "wg-upgrade")

	cfg, err := loadSettings(opts)
	if err != nil {
		return Plan{}, err
	}

	return NewDeviceCoordinator(cfg, opts.Platform).Check(ctx, opts.Version)
}

// LastRun returns the journal of the previous run.
func LastRun(ctx context.Context, opts *Options) (*upgrade.Record, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	return journal.NewFileRepository(cfg.JournalPath).Load(ctx)
}

// NewDeviceCoordinator wires a Coordinator to platform (nil means the running device).
func NewDeviceCoordinator(cfg *config.Config, platform *Platform) *Coordinator {
	if platform == nil {
		platform = DevicePlatform()
	}

	var (
		store    = vyatta.NewStore(platform.Exec)
		packages = dpkg.New(platform.PackageExec)
		ifaces   = iproute.New(platform.Exec, "")
		index    = resolver.NewHTTPIndex(cfg.ReleaseIndexURL, nil, cfg.Timeout)
	)

	return NewCoordinator(Dependencies{
		Prober: probe.New(platform.Exec, device.NewAliases(cfg.BoardAliases),
			probe.WithSources(platform.BoardTool, platform.VersionFile)),
		Resolver:  resolver.New(index, packages, cfg.PackageName),
		Fetcher:   fetcher.New(nil, packages, cfg.PackageName, cfg.Timeout),
		Modules:   kmod.New(platform.Exec, platform.ModulesFile),
		Installer: packages,
		Guard:     platform.Processes,
		Persister: NewFirstbootPersister(cfg.FirstbootDir, cfg.FirstbootFilename),
		Journal:   journal.NewFileRepository(cfg.JournalPath),
		NewTransition: func() Transition {
			return transition.New(store, ifaces, transition.OptionsFromConfig(cfg))
		},
	}, SettingsFromConfig(cfg))
}

func loadSettings(opts *Options) (*config.Config, error) {
	if opts == nil {
		return nil, errSettingsNotInitialised
	}

	if opts.Settings != nil {
		if err := config.Validate(opts.Settings); err != nil {
			return nil, err
		}

		return opts.Settings, nil
	}

	return config.Load(opts.ConfigPath)
}
