// Package probe reads the device profile from the local system.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

const (
	// DefaultBoardTool prints the raw board identifier.
	DefaultBoardTool = "/usr/sbin/ubnt-hal-e"
	// DefaultVersionFile carries the firmware version.
	DefaultVersionFile = "/opt/vyatta/etc/version"

	boardCommand  = "getBoardIdE"
	versionPrefix = "version:"
)

// ErrNoVersionLine is returned when the version file has no version line.
var ErrNoVersionLine = errors.New("no version line")

// Probe builds the device profile.
type Probe struct {
	exec        shell.Executor
	aliases     device.Aliases
	boardTool   string
	versionFile string
}

// Option configures a Probe.
type Option func(*Probe)

// WithSources overrides the board tool and version file.
func WithSources(boardTool, versionFile string) Option {
	return func(p *Probe) {
		if boardTool != "" {
			p.boardTool = boardTool
		}

		if versionFile != "" {
			p.versionFile = versionFile
		}
	}
}

// New returns a Probe rewriting board ids with aliases.
func New(exec shell.Executor, aliases device.Aliases, opts ...Option) *Probe {
	p := &Probe{
		exec:        exec,
		aliases:     aliases,
		boardTool:   DefaultBoardTool,
		versionFile: DefaultVersionFile,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe reads the raw board id and firmware version. It has no side effects.
func (p *Probe) Probe(ctx context.Context) (device.Profile, error) {
	out, err := p.exec.Run(ctx, p.boardTool, boardCommand)
	if err != nil {
		return device.Profile{}, p.fail(fmt.Errorf("read board id: %w", err))
	}

	firmware, err := readFirmware(p.versionFile)
	if err != nil {
		return device.Profile{}, p.fail(err)
	}

	profile, err := device.NewProfile(p.aliases, string(out), firmware)
	if err != nil {
		return device.Profile{}, p.fail(err)
	}

	logger.InfoKV(ctx, "Device probed",
		"board", profile.Board,
		"raw_board", profile.RawBoard,
		"firmware", profile.FirmwareVersion,
		"generation", profile.Generation.String())

	return profile, nil
}

func (p *Probe) fail(err error) error {
	return upgrade.Fail(upgrade.StageProbe, upgrade.ErrEnvironment, err, shell.ExitStatus(err))
}

// readFirmware returns the value of the "Version:" line of path.
func readFirmware(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read firmware version: %w", err)
	}
	defer f.Close()

	return ParseVersionFile(f, path)
}

// ParseVersionFile scans r for a "Version: <value>" line.
func ParseVersionFile(r io.Reader, name string) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < len(versionPrefix) || !strings.EqualFold(line[:len(versionPrefix)], versionPrefix) {
			continue
		}

		if value := strings.TrimSpace(line[len(versionPrefix):]); value != "" {
			return value, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan %s: %w", name, err)
	}

	return "", fmt.Errorf("%s: %w", name, ErrNoVersionLine)
}
