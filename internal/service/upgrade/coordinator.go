package upgrade

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/procs"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
	"github.com/oshokin/wg-upgrade/internal/repository/journal"
	"github.com/oshokin/wg-upgrade/internal/service/asset"
	"github.com/oshokin/wg-upgrade/internal/service/fetcher"
	"github.com/oshokin/wg-upgrade/internal/service/resolver"
	"github.com/oshokin/wg-upgrade/internal/service/runctx"
)

var (
	errAnotherInstance = errors.New("another upgrade is running")
	errPackageManager  = errors.New("package manager is busy")
	errInterrupted     = errors.New("upgrade interrupted before any change")
)

// Prober reads the device profile.
type Prober interface {
	Probe(ctx context.Context) (device.Profile, error)
}

// Resolver decides which release to install.
type Resolver interface {
	Installed(ctx context.Context) (string, error)
	Resolve(ctx context.Context, installed, pin string) (resolver.Decision, error)
}

// Fetcher downloads and verifies an asset.
type Fetcher interface {
	Fetch(ctx context.Context, a release.Asset, destDir string) (fetcher.Package, error)
}

// Transition moves the managed configuration across the package swap.
type Transition interface {
	HasActiveConfig(ctx context.Context) (bool, error)
	SnapshotAndDetach(ctx context.Context, run *runctx.Run) error
	SnapshotPath() string
	Restore(ctx context.Context, run *runctx.Run, path string) error
}

// Modules controls kernel modules.
type Modules interface {
	IsLoaded(ctx context.Context, name string) (bool, error)
	Unload(ctx context.Context, name string) error
}

// Installer installs package archives.
type Installer interface {
	Install(ctx context.Context, path string) error
}

// Guard inspects the process table.
type Guard interface {
	OtherInstances() ([]procs.Process, error)
	PackageManagerBusy() ([]procs.Process, error)
}

// Persister keeps the installed package for the next firmware reset.
type Persister interface {
	Persist(ctx context.Context, pkg fetcher.Package) error
}

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	Prober    Prober
	Resolver  Resolver
	Fetcher   Fetcher
	Modules   Modules
	Installer Installer
	Guard     Guard
	Persister Persister
	Journal   journal.Repository
	// NewTransition returns a fresh transition for every run.
	NewTransition func() Transition
}

// Settings are the plain knobs of a Coordinator.
type Settings struct {
	// ModuleName is the kernel module unloaded before installing.
	ModuleName string
	// TempDir is the parent of the run directory ("" means os.TempDir).
	TempDir string
	// RecoveryDir receives the configuration snapshot of a failed run.
	RecoveryDir string
}

// SettingsFromConfig picks the coordinator knobs out of the settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ModuleName:  cfg.ModuleName,
		TempDir:     cfg.TempDir,
		RecoveryDir: cfg.RecoveryDir,
	}
}

// Plan is what an upgrade would do.
type Plan struct {
	Profile  device.Profile
	Decision resolver.Decision
	// Asset is set when an upgrade is needed.
	Asset release.Asset
}

// Coordinator runs the upgrade workflow.
type Coordinator struct {
	deps     Dependencies
	settings Settings
	now      func() time.Time
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(deps Dependencies, settings Settings) *Coordinator {
	return &Coordinator{
		deps:     deps,
		settings: settings,
		now:      time.Now,
	}
}

// Check probes, resolves and selects without changing anything.
func (c *Coordinator) Check(ctx context.Context, pin string) (Plan, error) {
	var plan Plan

	profile, err := c.deps.Prober.Probe(ctx)
	if err != nil {
		return plan, err
	}

	plan.Profile = profile

	installed, err := c.deps.Resolver.Installed(ctx)
	if err != nil {
		return plan, err
	}

	plan.Decision, err = c.deps.Resolver.Resolve(ctx, installed, pin)
	if err != nil {
		return plan, err
	}

	if !plan.Decision.UpgradeNeeded {
		return plan, nil
	}

	plan.Asset, err = asset.Select(ctx, plan.Decision.Release, profile)

	return plan, err
}

// Upgrade runs the whole workflow. pin selects a release tag, "" means the latest one.
func (c *Coordinator) Upgrade(ctx context.Context, pin string) (result upgrade.Result, err error) {
	record := &upgrade.Record{StartedAt: c.now()}

	defer func() {
		c.writeJournal(ctx, record, &result, err)
	}()

	if err = c.guardInstances(); err != nil {
		return result, err
	}

	run, err := runctx.New(c.settings.TempDir)
	if err != nil {
		return result, upgrade.Fail(upgrade.StageProbe, upgrade.ErrEnvironment, err, -1)
	}

	defer func() {
		if closeErr := run.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.WarnKV(ctx, "Run cleanup failed", "error", closeErr)
		}
	}()

	logger.DebugKV(ctx, "Working directory created", "path", run.Dir())

	plan, err := c.Check(ctx, pin)
	c.fillRecord(record, &result, plan)

	if err != nil || !plan.Decision.UpgradeNeeded {
		if err == nil {
			result.Status = upgrade.StatusUpToDate

			logger.InfoKV(ctx, "Package is up to date", "installed", plan.Decision.Installed)
		}

		return result, err
	}

	pkg, err := c.deps.Fetcher.Fetch(ctx, plan.Asset, run.Dir())
	if err != nil {
		return result, err
	}

	if err = c.guardPackageManager(); err != nil {
		return result, err
	}

	if err = ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: %w", errInterrupted, err)
	}

	// From here on the device is being changed and the run goes to completion.
	ctx = context.WithoutCancel(ctx)

	transition := c.deps.NewTransition()

	defer func() {
		if err != nil {
			record.RecoveryFile = c.keepSnapshot(ctx, run, transition.SnapshotPath(), err)
		}
	}()

	err = c.swap(ctx, run, transition, pkg)
	if err != nil {
		return result, err
	}

	result.ConfigRestored = transition.SnapshotPath() != ""
	result.Status = upgrade.StatusInstalled

	if persistErr := c.deps.Persister.Persist(ctx, pkg); persistErr != nil {
		warning := upgrade.Fail(upgrade.StagePersist, upgrade.ErrPersistArtifact, persistErr, -1)
		result.Warnings = append(result.Warnings, warning)

		logger.WarnKV(ctx, "Package installed but not kept for the next firmware reset", "error", warning)
	}

	logger.InfoKV(ctx, "Package installed",
		"version", pkg.Info.Version,
		"asset", plan.Asset.Name,
		"config_restored", result.ConfigRestored)

	return result, nil
}

// swap replaces the installed package, carrying the configuration across.
func (c *Coordinator) swap(ctx context.Context, run *runctx.Run, transition Transition, pkg fetcher.Package) error {
	active, err := transition.HasActiveConfig(ctx)
	if err != nil {
		return err
	}

	if active {
		if err = transition.SnapshotAndDetach(ctx, run); err != nil {
			return err
		}
	} else {
		logger.Info(ctx, "No active WireGuard configuration, nothing to carry over")
	}

	if err = c.unloadModule(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Installing package", "path", pkg.Path, "version", pkg.Info.Version)

	if err = c.deps.Installer.Install(ctx, pkg.Path); err != nil {
		return upgrade.Fail(upgrade.StageInstall, upgrade.ErrPackageInstall, err, shell.ExitStatus(err))
	}

	snapshot := transition.SnapshotPath()
	if snapshot == "" {
		return nil
	}

	if _, err = os.Stat(snapshot); err != nil {
		return upgrade.Fail(upgrade.StageRestore, upgrade.ErrConfigRestore, fmt.Errorf("snapshot missing: %w", err), -1)
	}

	return transition.Restore(ctx, run, snapshot)
}

func (c *Coordinator) unloadModule(ctx context.Context) error {
	loaded, err := c.deps.Modules.IsLoaded(ctx, c.settings.ModuleName)
	if err != nil {
		return upgrade.Fail(upgrade.StageUnload, upgrade.ErrModuleUnload, err, -1)
	}

	if !loaded {
		return nil
	}

	logger.InfoKV(ctx, "Unloading kernel module", "module", c.settings.ModuleName)

	if err = c.deps.Modules.Unload(ctx, c.settings.ModuleName); err != nil {
		return upgrade.Fail(upgrade.StageUnload, upgrade.ErrModuleUnload, err, shell.ExitStatus(err))
	}

	return nil
}

func (c *Coordinator) guardInstances() error {
	others, err := c.deps.Guard.OtherInstances()
	if err != nil {
		return upgrade.Fail(upgrade.StageGuard, upgrade.ErrEnvironment, err, -1)
	}

	if len(others) > 0 {
		return upgrade.Fail(upgrade.StageGuard, upgrade.ErrConcurrentRun,
			fmt.Errorf("%w: %s", errAnotherInstance, procs.Join(others)), -1)
	}

	return nil
}

func (c *Coordinator) guardPackageManager() error {
	busy, err := c.deps.Guard.PackageManagerBusy()
	if err != nil {
		return upgrade.Fail(upgrade.StageGuard, upgrade.ErrEnvironment, err, -1)
	}

	if len(busy) > 0 {
		return upgrade.Fail(upgrade.StageGuard, upgrade.ErrConcurrentRun,
			fmt.Errorf("%w: %s", errPackageManager, procs.Join(busy)), -1)
	}

	return nil
}

// keepSnapshot copies the snapshot of a failed run out of the scratch
// directory and attaches the recovery instructions to runErr. When the copy
// fails the snapshot stays where it is and the run directory is kept.
func (c *Coordinator) keepSnapshot(ctx context.Context, run *runctx.Run, snapshot string, runErr error) string {
	if snapshot == "" {
		return ""
	}

	if _, err := os.Stat(snapshot); err != nil {
		return ""
	}

	name := fmt.Sprintf("config-%s.boot", c.now().UTC().Format("20060102T150405Z"))
	target := filepath.Join(c.settings.RecoveryDir, name)

	if err := copyFile(snapshot, target); err != nil {
		logger.ErrorKV(ctx, "Could not copy the configuration snapshot, leaving it in the working directory",
			"error", err,
			"snapshot", snapshot)

		run.Keep(snapshot)
		target = snapshot
	}

	var stageErr *upgrade.StageError
	if errors.As(runErr, &stageErr) {
		stageErr.RecoveryHint = fmt.Sprintf(
			"no automatic rollback was attempted; configuration snapshot kept at %s, "+
				"restore it with: configure; load %s; commit; save", target, target)
	}

	logger.WarnKV(ctx, "Configuration snapshot kept for manual recovery", "path", target)

	return target
}

func (c *Coordinator) fillRecord(record *upgrade.Record, result *upgrade.Result, plan Plan) {
	result.Board = plan.Profile.Board
	result.Firmware = plan.Profile.FirmwareVersion
	result.InstalledVersion = plan.Decision.Installed
	result.TargetVersion = plan.Decision.Release.Tag
	result.Asset = plan.Asset.Name

	record.RawBoard = plan.Profile.RawBoard
	record.Pinned = plan.Decision.Pinned
}

func (c *Coordinator) writeJournal(ctx context.Context, record *upgrade.Record, result *upgrade.Result, runErr error) {
	record.FinishedAt = c.now()
	record.Status = result.Status
	record.Board = result.Board
	record.Firmware = result.Firmware
	record.InstalledVersion = result.InstalledVersion
	record.TargetVersion = result.TargetVersion
	record.Asset = result.Asset
	record.ConfigRestored = result.ConfigRestored
	record.ExitCode = upgrade.ExitCode(runErr)

	for _, w := range result.Warnings {
		record.Warnings = append(record.Warnings, w.Error())
	}

	if runErr != nil {
		record.Status = upgrade.StatusFailed
		record.Error = runErr.Error()

		var stageErr *upgrade.StageError
		if errors.As(runErr, &stageErr) {
			record.FailedStage = stageErr.Stage
		}
	}

	if c.deps.Journal == nil {
		return
	}

	if err := c.deps.Journal.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.WarnKV(ctx, "Could not write the run journal", "error", err)
	}
}
