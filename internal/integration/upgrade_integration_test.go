package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/platform/procs"
	"github.com/oshokin/wg-upgrade/internal/platform/shell/shelltest"
	service "github.com/oshokin/wg-upgrade/internal/service/upgrade"
)

const (
	shellAPI   = "/bin/cli-shell-api"
	cmdWrapper = "/opt/vyatta/sbin/vyatta-cfg-cmd-wrapper"
	ipTool     = "/sbin/ip"
	boardTool  = "/usr/sbin/ubnt-hal-e"

	packageBody  = "!<arch>\nwireguard 1.0.20220627-1"
	activeConfig = "interfaces {\n    wireguard wg0 {\n        address 10.0.0.1/24\n        route-allowed-ips true\n    }\n}\n"
	assetName    = "e300-v2-v1.0.20220627-v1.0.20210914.deb"
)

type device struct {
	root   string
	fake   *shelltest.Fake
	server *httptest.Server
	cfg    *config.Config
	cfgAt  string
}

// newDevice scripts an EdgeRouter 4 on v2 firmware with WireGuard 1.0.20211208-2 configured on wg0.
// dpkg --install exits with installStatus.
func newDevice(t *testing.T, installStatus int) *device {
	t.Helper()

	root := t.TempDir()
	sum := sha256.Sum256([]byte(packageBody))

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/releases", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `[{"tag_name": "1.0.20220627-1", "assets": [
			{"name": "e300-v1.0.20220627-v1.0.20210914.deb", "browser_download_url": "%[1]s/e300-v1.deb"},
			{"name": %[2]q, "browser_download_url": "%[1]s/e300-v2.deb", "digest": "sha256:%[3]s", "size": %[4]d}
		]}]`, server.URL, assetName, hex.EncodeToString(sum[:]), len(packageBody))
	})
	mux.HandleFunc("/e300-v2.deb", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(packageBody))
	})

	versionFile := filepath.Join(root, "version")
	require.NoError(t, os.WriteFile(versionFile, []byte("Version:      v2.0.9-hotfix.7\n"), 0o600))

	modulesFile := filepath.Join(root, "modules")
	require.NoError(t, os.WriteFile(modulesFile, []byte("wireguard 212992 0 - Live 0x00000000\n"), 0o600))

	tempDir := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))

	fake := shelltest.New().
		On(boardTool+" getBoardIdE", "e300\n").
		On("dpkg-query --show --showformat=${Status}\t${Version} wireguard", "install ok installed\t1.0.20211208-2").
		OnPrefix("dpkg-deb --field ", shelltest.Response{
			Out: "Package: wireguard\nVersion: 1.0.20220627-1\nArchitecture: mips\n",
		}).
		On(shellAPI+" existsActive interfaces wireguard", "").
		On(cmdWrapper+" begin", "").
		On(shellAPI+" showConfig --show-active-only --show-ignore-edit", activeConfig).
		On(shellAPI+" listActiveNodes interfaces wireguard", "'wg0'").
		On(shellAPI+" returnActiveValue interfaces wireguard wg0 route-allowed-ips", "true").
		On(shellAPI+" returnActiveValue interfaces wireguard wg0 route-allowed-ips", "false").
		On(cmdWrapper+" set interfaces wireguard wg0 route-allowed-ips false", "").
		On(cmdWrapper+" commit", "").
		On(shellAPI+" returnActiveValues interfaces wireguard wg0 address", "'10.0.0.1/24'").
		On(ipTool+" -o address show dev wg0", "").
		On(ipTool+" address add 10.0.0.1/24 dev wg0", "").
		On(cmdWrapper+" delete interfaces wireguard", "").
		On(cmdWrapper+" end", "").
		On("modprobe --remove wireguard", "").
		OnPrefix("dpkg --install ", shelltest.Response{Status: installStatus}).
		OnPrefix(cmdWrapper+" load ", shelltest.Response{})

	cfg := &config.Config{
		ReleaseIndexURL: server.URL + "/releases",
		FirstbootDir:    filepath.Join(root, "firstboot"),
		TempDir:         tempDir,
		RecoveryDir:     filepath.Join(root, "recovery"),
		JournalPath:     filepath.Join(root, "last-run.yaml"),
	}
	cfgAt := filepath.Join(root, "settings.yaml")
	require.NoError(t, config.Save(cfgAt, cfg))

	return &device{
		root:   root,
		fake:   fake,
		server: server,
		cfg:    cfg,
		cfgAt:  cfgAt,
	}
}

func (d *device) options(pin string) *service.Options {
	noProcesses := func() ([]ps.Process, error) { return nil, nil }

	return &service.Options{
		ConfigPath: d.cfgAt,
		Version:    pin,
		Platform: &service.Platform{
			Exec:        d.fake,
			PackageExec: d.fake,
			VersionFile: filepath.Join(d.root, "version"),
			ModulesFile: filepath.Join(d.root, "modules"),
			Processes:   procs.NewWithLister(noProcesses, os.Getpid()),
		},
	}
}

func indexOf(t *testing.T, calls []string, prefix string) int {
	t.Helper()

	i := slices.IndexFunc(calls, func(c string) bool { return strings.HasPrefix(c, prefix) })
	require.GreaterOrEqual(t, i, 0, prefix)

	return i
}

// TestUpgrade_Run_EndToEnd upgrades a configured device and restores its configuration.
func TestUpgrade_Run_EndToEnd(t *testing.T) {
	t.Parallel()

	d := newDevice(t, 0)

	result, err := service.Run(context.Background(), d.options(""))
	require.NoError(t, err)
	require.Equal(t, upgrade.StatusInstalled, result.Status)
	require.Equal(t, "e300", result.Board)
	require.Equal(t, assetName, result.Asset)
	require.True(t, result.ConfigRestored)
	require.Empty(t, result.Warnings)

	calls := d.fake.Calls()
	require.Less(t, indexOf(t, calls, cmdWrapper+" set interfaces wireguard wg0 route-allowed-ips false"),
		indexOf(t, calls, cmdWrapper+" delete interfaces wireguard"))
	require.Less(t, indexOf(t, calls, ipTool+" address add 10.0.0.1/24 dev wg0"),
		indexOf(t, calls, cmdWrapper+" delete interfaces wireguard"))
	require.Less(t, indexOf(t, calls, "modprobe --remove wireguard"), indexOf(t, calls, "dpkg --install "))
	require.Less(t, indexOf(t, calls, "dpkg --install "), indexOf(t, calls, cmdWrapper+" load "))

	data, err := os.ReadFile(filepath.Join(d.cfg.FirstbootDir, config.DefaultFirstbootFilename))
	require.NoError(t, err)
	require.Equal(t, packageBody, string(data))

	entries, err := os.ReadDir(d.cfg.TempDir)
	require.NoError(t, err)
	require.Empty(t, entries)

	record, err := service.LastRun(context.Background(), d.options(""))
	require.NoError(t, err)
	require.Equal(t, upgrade.StatusInstalled, record.Status)
	require.Equal(t, "1.0.20211208-2", record.InstalledVersion)
	require.Equal(t, "1.0.20220627-1", record.TargetVersion)
}

// TestUpgrade_Run_InstallFailureKeepsSnapshot leaves a loadable snapshot behind.
func TestUpgrade_Run_InstallFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	d := newDevice(t, 2)

	_, err := service.Run(context.Background(), d.options(""))
	require.ErrorIs(t, err, upgrade.ErrPackageInstall)
	require.Equal(t, 61, upgrade.ExitCode(err))

	record, loadErr := service.LastRun(context.Background(), d.options(""))
	require.NoError(t, loadErr)
	require.Equal(t, upgrade.StageInstall, record.FailedStage)
	require.FileExists(t, record.RecoveryFile)

	snapshot, readErr := os.ReadFile(record.RecoveryFile)
	require.NoError(t, readErr)
	require.Equal(t, activeConfig, string(snapshot))
}

// TestCheck_DoesNotTouchTheDevice only reads.
func TestCheck_DoesNotTouchTheDevice(t *testing.T) {
	t.Parallel()

	d := newDevice(t, 0)

	plan, err := service.Check(context.Background(), d.options(""))
	require.NoError(t, err)
	require.True(t, plan.Decision.UpgradeNeeded)
	require.Equal(t, assetName, plan.Asset.Name)

	for _, c := range d.fake.Calls() {
		require.False(t, strings.HasPrefix(c, cmdWrapper), c)
	}

	_, err = os.Stat(d.cfg.JournalPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}
