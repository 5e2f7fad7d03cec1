package dpkg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

const (
	// installedStatus is the dpkg status of a configured package.
	installedStatus = "install ok installed"

	// statusUnknownPackage is what dpkg-query returns for a package it has never seen.
	statusUnknownPackage = 1
)

var (
	// ErrMalformedPackage is returned when the archive control data cannot be read.
	ErrMalformedPackage = errors.New("malformed package")
	// ErrWrongPackage is returned when the archive carries a different package.
	ErrWrongPackage = errors.New("unexpected package name")
)

// Info is the control data of a package archive.
type Info struct {
	// Package is the package name.
	Package string
	// Version is the package version.
	Version string
	// Architecture is the target architecture.
	Architecture string
}

// Manager wraps dpkg, dpkg-query and dpkg-deb.
type Manager struct {
	exec shell.Executor
}

// New returns a Manager running commands through exec.
func New(exec shell.Executor) *Manager {
	return &Manager{exec: exec}
}

// InstalledVersion returns the installed version of name, or "" when the package is not installed.
func (m *Manager) InstalledVersion(ctx context.Context, name string) (string, error) {
	out, err := m.exec.Run(ctx, "dpkg-query", "--show", "--showformat=${Status}\t${Version}", name)
	if err != nil {
		if shell.ExitStatus(err) == statusUnknownPackage {
			return "", nil
		}

		return "", fmt.Errorf("query %s: %w", name, err)
	}

	status, version, _ := strings.Cut(strings.TrimSpace(string(out)), "\t")
	if status != installedStatus {
		return "", nil
	}

	return strings.TrimSpace(version), nil
}

// Inspect reads the control fields of the archive at path and checks it carries want.
func (m *Manager) Inspect(ctx context.Context, path, want string) (Info, error) {
	out, err := m.exec.Run(ctx, "dpkg-deb", "--field", path, "Package", "Version", "Architecture")
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrMalformedPackage, err)
	}

	info := parseControl(string(out))
	if info.Package == "" || info.Version == "" {
		return Info{}, fmt.Errorf("%s: missing control fields: %w", path, ErrMalformedPackage)
	}

	if want != "" && info.Package != want {
		return info, fmt.Errorf("%s carries %q, want %q: %w", path, info.Package, want, ErrWrongPackage)
	}

	return info, nil
}

// Install installs the archive at path.
func (m *Manager) Install(ctx context.Context, path string) error {
	if _, err := m.exec.Run(ctx, "dpkg", "--install", path); err != nil {
		return fmt.Errorf("install %s: %w", path, err)
	}

	return nil
}

func parseControl(out string) Info {
	var info Info

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "Package":
			info.Package = value
		case "Version":
			info.Version = value
		case "Architecture":
			info.Architecture = value
		}
	}

	return info
}
