package transition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/iproute"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
	"github.com/oshokin/wg-upgrade/internal/platform/vyatta"
	"github.com/oshokin/wg-upgrade/internal/service/runctx"
)

// SnapshotFilename is the name of the snapshot inside the run directory.
const SnapshotFilename = "config.boot"

// State is a step of the transition.
type State int

// Transition states.
const (
	StateIdle State = iota
	StateSnapshotted
	StateDetached
	StateDeleted
	StateRestored
	StateFailed
)

// String names the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotted:
		return "snapshotted"
	case StateDetached:
		return "detached"
	case StateDeleted:
		return "deleted"
	case StateRestored:
		return "restored"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidState is returned when an operation is called out of order.
	ErrInvalidState = errors.New("invalid transition state")
	// ErrNoSession is returned when a mutating step runs without an open session.
	ErrNoSession = errors.New("no configuration session open")
	// ErrEmptySnapshot is returned when the store dumps nothing.
	ErrEmptySnapshot = errors.New("configuration dump is empty")
)

// Store is the configuration system as the manager uses it.
type Store interface {
	runctx.SessionOpener
	ExistsActive(ctx context.Context, path ...string) (bool, error)
	ShowActive(ctx context.Context) ([]byte, error)
	ListActiveNodes(ctx context.Context, path ...string) ([]string, error)
	ActiveValue(ctx context.Context, path ...string) (string, error)
	ActiveValues(ctx context.Context, path ...string) ([]string, error)
}

// Interfaces reads and assigns kernel interface addresses.
type Interfaces interface {
	Addresses(ctx context.Context, iface string) (map[string]struct{}, error)
	AddAddress(ctx context.Context, iface, addr string) error
}

// Options names the configuration nodes of the managed subsystem.
type Options struct {
	// Root is the subsystem's configuration path.
	Root []string
	// RouteAllNode is the per-interface route-all flag leaf.
	RouteAllNode string
	// AddressNode is the per-interface address leaf.
	AddressNode string
}

// OptionsFromConfig picks the node names out of the settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Root:         cfg.ConfigRoot,
		RouteAllNode: cfg.RouteAllNode,
		AddressNode:  cfg.AddressNode,
	}
}

// InterfaceState is the configured and live view of one tunnel interface.
type InterfaceState struct {
	// Name is the interface name, e.g. "wg0".
	Name string
	// RouteAll reports whether routes for all allowed IPs are installed.
	RouteAll bool
	// Configured lists addresses in configuration order.
	Configured []string
	// Live is the set of addresses present on the kernel interface.
	Live map[string]struct{}
}

// Missing returns configured addresses absent from the live interface.
// Both sides are compared in canonical form.
func (s InterfaceState) Missing() []string {
	live := make(map[string]struct{}, len(s.Live))
	for addr := range s.Live {
		live[iproute.Canonical(addr)] = struct{}{}
	}

	var missing []string

	for _, addr := range s.Configured {
		if _, ok := live[iproute.Canonical(addr)]; !ok {
			missing = append(missing, addr)
		}
	}

	return missing
}

// Manager drives the configuration across the package swap.
type Manager struct {
	store    Store
	ifaces   Interfaces
	opts     Options
	state    State
	snapshot string
}

// New returns a Manager in the Idle state.
func New(store Store, ifaces Interfaces, opts Options) *Manager {
	if len(opts.Root) == 0 {
		opts.Root = config.DefaultConfigRoot()
	}

	if opts.RouteAllNode == "" {
		opts.RouteAllNode = config.DefaultRouteAllNode
	}

	if opts.AddressNode == "" {
		opts.AddressNode = config.DefaultAddressNode
	}

	return &Manager{
		store:  store,
		ifaces: ifaces,
		opts:   opts,
		state:  StateIdle,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// SnapshotPath returns the snapshot file, empty before Snapshot succeeds.
func (m *Manager) SnapshotPath() string {
	return m.snapshot
}

// HasActiveConfig reports whether the subsystem has an active configuration.
func (m *Manager) HasActiveConfig(ctx context.Context) (bool, error) {
	ok, err := m.store.ExistsActive(ctx, m.opts.Root...)
	if err != nil {
		return false, upgrade.Fail(upgrade.StageSnapshot, upgrade.ErrConfigBackup,
			fmt.Errorf("check %s: %w", m.rootPath(), err), shell.ExitStatus(err))
	}

	return ok, nil
}

// SnapshotAndDetach runs Snapshot, DetachLiveState and DeleteConfig inside one session.
// The session is ended before returning, on success and on failure.
func (m *Manager) SnapshotAndDetach(ctx context.Context, run *runctx.Run) (err error) {
	if _, err = run.OpenSession(ctx, m.store); err != nil {
		m.state = StateFailed

		return upgrade.Fail(upgrade.StageSnapshot, upgrade.ErrConfigBackup,
			fmt.Errorf("open session: %w", err), shell.ExitStatus(err))
	}

	defer func() {
		if endErr := run.CloseSession(ctx); endErr != nil {
			logger.WarnKV(ctx, "Configuration session did not end cleanly", "error", endErr)
		}
	}()

	if _, err = m.Snapshot(ctx, run); err != nil {
		return err
	}

	if err = m.DetachLiveState(ctx, run); err != nil {
		return err
	}

	return m.DeleteConfig(ctx, run)
}

// Snapshot writes the active configuration to the run directory and syncs it.
func (m *Manager) Snapshot(ctx context.Context, run *runctx.Run) (string, error) {
	if m.state != StateIdle {
		return "", m.outOfOrder(upgrade.StageSnapshot, upgrade.ErrConfigBackup, "snapshot")
	}

	logger.Info(ctx, "Saving active configuration")

	dump, err := m.store.ShowActive(ctx)
	if err != nil {
		return "", m.fail(upgrade.StageSnapshot, upgrade.ErrConfigBackup, fmt.Errorf("dump configuration: %w", err))
	}

	if len(strings.TrimSpace(string(dump))) == 0 {
		return "", m.fail(upgrade.StageSnapshot, upgrade.ErrConfigBackup, ErrEmptySnapshot)
	}

	path := run.Path(SnapshotFilename)
	if err = writeDurable(path, dump); err != nil {
		return "", m.fail(upgrade.StageSnapshot, upgrade.ErrConfigBackup, err)
	}

	m.snapshot = path
	m.state = StateSnapshotted

	logger.InfoKV(ctx, "Configuration saved", "path", path, "bytes", len(dump))

	return path, nil
}

func (m *Manager) interfaceState(ctx context.Context, name string) (InterfaceState, error) {
	flag, err := m.store.ActiveValue(ctx, m.path(name, m.opts.RouteAllNode)...)
	if err != nil {
		return InterfaceState{}, fmt.Errorf("read %s %s: %w", name, m.opts.RouteAllNode, err)
	}

	configured, err := m.store.ActiveValues(ctx, m.path(name, m.opts.AddressNode)...)
	if err != nil {
		return InterfaceState{}, fmt.Errorf("read %s %s: %w", name, m.opts.AddressNode, err)
	}

	live, err := m.ifaces.Addresses(ctx, name)
	if err != nil {
		return InterfaceState{}, err
	}

	return InterfaceState{
		Name:       name,
		RouteAll:   isEnabled(flag),
		Configured: configured,
		Live:       live,
	}, nil
}

// DetachLiveState turns off route-all on every interface and pins configured
// addresses on the kernel interfaces, so the device stays reachable while the
// configuration tree is deleted.
func (m *Manager) DetachLiveState(ctx context.Context, run *runctx.Run) error {
	if m.state != StateSnapshotted {
		return m.outOfOrder(upgrade.StageDetach, upgrade.ErrConfigDetach, "detach")
	}

	session := run.Session()
	if session == nil {
		return m.fail(upgrade.StageDetach, upgrade.ErrConfigDetach, ErrNoSession)
	}

	names, err := m.store.ListActiveNodes(ctx, m.opts.Root...)
	if err != nil {
		return m.fail(upgrade.StageDetach, upgrade.ErrConfigDetach, fmt.Errorf("list interfaces: %w", err))
	}

	for _, name := range names {
		if err = m.detachInterface(ctx, session, name); err != nil {
			return m.fail(upgrade.StageDetach, upgrade.ErrConfigDetach, err)
		}
	}

	m.state = StateDetached

	return nil
}

func (m *Manager) detachInterface(ctx context.Context, session vyatta.Session, name string) error {
	ctx = logger.WithKV(ctx, "interface", name)

	flag, err := m.store.ActiveValue(ctx, m.path(name, m.opts.RouteAllNode)...)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", name, m.opts.RouteAllNode, err)
	}

	if isEnabled(flag) {
		logger.InfoKV(ctx, "Disabling route-all before removing the configuration", "node", m.opts.RouteAllNode)

		if err = session.Set(ctx, "false", m.path(name, m.opts.RouteAllNode)...); err != nil {
			return fmt.Errorf("disable %s on %s: %w", m.opts.RouteAllNode, name, err)
		}

		if err = session.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s on %s: %w", m.opts.RouteAllNode, name, err)
		}
	}

	// Live addresses are read after the commit, which may have changed them.
	state, err := m.interfaceState(ctx, name)
	if err != nil {
		return err
	}

	for _, addr := range state.Missing() {
		logger.InfoKV(ctx, "Pinning configured address on the live interface", "address", addr)

		if err = m.ifaces.AddAddress(ctx, name, addr); err != nil {
			return err
		}
	}

	return nil
}

// DeleteConfig removes the subsystem's configuration tree and commits.
func (m *Manager) DeleteConfig(ctx context.Context, run *runctx.Run) error {
	if m.state != StateDetached || m.snapshot == "" {
		return m.outOfOrder(upgrade.StageDelete, upgrade.ErrConfigCommit, "delete")
	}

	if _, err := os.Stat(m.snapshot); err != nil {
		return m.fail(upgrade.StageDelete, upgrade.ErrConfigCommit, fmt.Errorf("snapshot missing: %w", err))
	}

	session := run.Session()
	if session == nil {
		return m.fail(upgrade.StageDelete, upgrade.ErrConfigCommit, ErrNoSession)
	}

	logger.InfoKV(ctx, "Deleting configuration", "path", m.rootPath())

	if err := session.Delete(ctx, m.opts.Root...); err != nil {
		return m.fail(upgrade.StageDelete, upgrade.ErrConfigCommit, fmt.Errorf("delete %s: %w", m.rootPath(), err))
	}

	if err := session.Commit(ctx); err != nil {
		return m.fail(upgrade.StageDelete, upgrade.ErrConfigCommit, fmt.Errorf("commit deletion: %w", err))
	}

	m.state = StateDeleted

	return nil
}

// Restore loads the snapshot at path in a new session and commits it.
func (m *Manager) Restore(ctx context.Context, run *runctx.Run, path string) (err error) {
	if m.state == StateRestored || m.state == StateFailed {
		return m.outOfOrder(upgrade.StageRestore, upgrade.ErrConfigRestore, "restore")
	}

	logger.InfoKV(ctx, "Restoring configuration", "path", path)

	session, err := run.OpenSession(ctx, m.store)
	if err != nil {
		return m.fail(upgrade.StageRestore, upgrade.ErrConfigRestore, fmt.Errorf("open session: %w", err))
	}

	defer func() {
		if endErr := run.CloseSession(ctx); endErr != nil {
			logger.WarnKV(ctx, "Configuration session did not end cleanly", "error", endErr)
		}
	}()

	if err = session.Load(ctx, path); err != nil {
		return m.fail(upgrade.StageRestore, upgrade.ErrConfigRestore, fmt.Errorf("load %s: %w", path, err))
	}

	if err = session.Commit(ctx); err != nil {
		return m.fail(upgrade.StageRestore, upgrade.ErrConfigRestore, fmt.Errorf("commit restored configuration: %w", err))
	}

	m.state = StateRestored

	return nil
}

func (m *Manager) fail(stage upgrade.Stage, kind, err error) error {
	m.state = StateFailed

	stageErr := upgrade.Fail(stage, kind, err, shell.ExitStatus(err))
	stageErr.Caller = callerOf(1)

	return stageErr
}

func (m *Manager) outOfOrder(stage upgrade.Stage, kind error, op string) error {
	err := fmt.Errorf("%s in state %s: %w", op, m.state, ErrInvalidState)

	return m.fail(stage, kind, err)
}

func (m *Manager) path(elems ...string) []string {
	return append(append([]string(nil), m.opts.Root...), elems...)
}

func (m *Manager) rootPath() string {
	return strings.Join(m.opts.Root, " ")
}

func isEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "enable", "enabled", "yes":
		return true
	default:
		return false
	}
}
