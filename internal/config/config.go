package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the knobs of a single upgrade run.
type Config struct {
	// ReleaseIndexURL lists releases newest-first as JSON.
	ReleaseIndexURL string `yaml:"release_index_url"`
	// PackageName is the dpkg package being upgraded.
	PackageName string `yaml:"package_name"`
	// ModuleName is the kernel module shipped by the package.
	ModuleName string `yaml:"module_name"`
	// ConfigRoot is the configuration store path of the managed subsystem.
	ConfigRoot []string `yaml:"config_root,flow"`
	// RouteAllNode is the per-interface leaf that routes all allowed IPs.
	RouteAllNode string `yaml:"route_all_node"`
	// AddressNode is the per-interface multi-value leaf with interface addresses.
	AddressNode string `yaml:"address_node"`
	// FirstbootDir is scanned by the firmware on (re)initialization.
	FirstbootDir string `yaml:"firstboot_dir"`
	// FirstbootFilename is the fixed name of the persisted package.
	FirstbootFilename string `yaml:"firstboot_filename"`
	// TempDir is the parent of the per-run scratch directory ("" means os.TempDir).
	TempDir string `yaml:"temp_dir"`
	// RecoveryDir receives a copy of the configuration snapshot when a run fails after taking it.
	RecoveryDir string `yaml:"recovery_dir"`
	// JournalPath is where the last run summary is written.
	JournalPath string `yaml:"journal_path"`
	// Timeout bounds every HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// BoardAliases extends the built-in raw board id rewrite table.
	BoardAliases map[string]string `yaml:"board_aliases"`
	// LogLevel is used when the CLI flag is not set.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is where settings are looked up when no path is given.
	DefaultConfigFilename = "/config/wg-upgrade/settings.yaml"

	// DefaultReleaseIndexURL is the public release list of the EdgeOS WireGuard packages.
	DefaultReleaseIndexURL = "https://api.github.com/repos/WireGuard/wireguard-vyatta-ubnt/releases?per_page=100"

	// DefaultPackageName is the dpkg name of the managed package.
	DefaultPackageName = "wireguard"

	// DefaultModuleName is the kernel module of the managed package.
	DefaultModuleName = "wireguard"

	// DefaultRouteAllNode is the leaf that installs routes for all allowed IPs.
	DefaultRouteAllNode = "route-allowed-ips"

	// DefaultAddressNode is the leaf carrying interface addresses.
	DefaultAddressNode = "address"

	// DefaultFirstbootDir is applied by the firmware after a reset or reflash.
	DefaultFirstbootDir = "/config/data/firstboot/install-packages"

	// DefaultFirstbootFilename is the name of the package inside DefaultFirstbootDir.
	DefaultFirstbootFilename = "wireguard.deb"

	// DefaultRecoveryDir keeps snapshots of failed runs on persistent storage.
	DefaultRecoveryDir = "/config/wg-upgrade/recovery"

	// DefaultJournalPath keeps the summary of the last run.
	DefaultJournalPath = "/config/wg-upgrade/last-run.yaml"

	// DefaultTimeout is the default duration for HTTP requests.
	DefaultTimeout = 60 * time.Second

	// DefaultFilePermissions is the permission used for files the upgrader writes.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the permission used for directories the upgrader creates.
	DefaultDirPermissions = 0o755
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errPackageNameRequired is returned when the package name is blanked out.
	errPackageNameRequired = errors.New("package name must not be empty")
	// errRelativePath is returned for paths that must be absolute.
	errRelativePath = errors.New("path must be absolute")
	// errBadScheme is returned for release index URLs that are not HTTP(S).
	errBadScheme = errors.New("scheme must be http or https")
	// errBadFilename is returned when the first-boot filename contains a directory.
	errBadFilename = errors.New("first-boot filename must be a plain file name")
)

// DefaultConfigRoot returns the store path of the WireGuard interfaces.
func DefaultConfigRoot() []string {
	return []string{"interfaces", "wireguard"}
}

// Default returns a configuration populated with device defaults.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path. When path is empty or the default one
// and the file does not exist, defaults are returned.
func Load(path string) (*Config, error) {
	explicit := path != "" && path != DefaultConfigFilename
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset fields with defaults and checks the rest.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if strings.TrimSpace(cfg.PackageName) == "" {
		return errPackageNameRequired
	}

	u, err := url.ParseRequestURI(cfg.ReleaseIndexURL)
	if err != nil {
		return fmt.Errorf("invalid release index URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("release index URL %q: %w", cfg.ReleaseIndexURL, errBadScheme)
	}

	for name, p := range map[string]string{
		"firstboot_dir": cfg.FirstbootDir,
		"recovery_dir":  cfg.RecoveryDir,
		"journal_path":  cfg.JournalPath,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s %q: %w", name, p, errRelativePath)
		}
	}

	if filepath.Base(cfg.FirstbootFilename) != cfg.FirstbootFilename {
		return fmt.Errorf("%q: %w", cfg.FirstbootFilename, errBadFilename)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ReleaseIndexURL == "" {
		cfg.ReleaseIndexURL = DefaultReleaseIndexURL
	}

	if cfg.PackageName == "" {
		cfg.PackageName = DefaultPackageName
	}

	if cfg.ModuleName == "" {
		cfg.ModuleName = DefaultModuleName
	}

	if len(cfg.ConfigRoot) == 0 {
		cfg.ConfigRoot = DefaultConfigRoot()
	}

	if cfg.RouteAllNode == "" {
		cfg.RouteAllNode = DefaultRouteAllNode
	}

	if cfg.AddressNode == "" {
		cfg.AddressNode = DefaultAddressNode
	}

	if cfg.FirstbootDir == "" {
		cfg.FirstbootDir = DefaultFirstbootDir
	}

	if cfg.FirstbootFilename == "" {
		cfg.FirstbootFilename = DefaultFirstbootFilename
	}

	if cfg.RecoveryDir == "" {
		cfg.RecoveryDir = DefaultRecoveryDir
	}

	if cfg.JournalPath == "" {
		cfg.JournalPath = DefaultJournalPath
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
}
