package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/platform/shell/shelltest"
)

func writeVersion(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "version")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestProbe rewrites the board id and classifies the firmware.
func TestProbe(t *testing.T) {
	t.Parallel()

	versionFile := writeVersion(t, "Version:      v2.0.9-hotfix.7\nBuild ID:     5592797\n")
	fake := shelltest.New().On(DefaultBoardTool+" getBoardIdE", "e120\n")
	p := New(fake, device.NewAliases(nil), WithSources("", versionFile))

	profile, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, device.Profile{
		Board:           "ugw3",
		RawBoard:        "e120",
		Generation:      device.GenerationV2,
		FirmwareVersion: "v2.0.9-hotfix.7",
	}, profile)

	again, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, profile, again)
}

// TestProbe_EmptyBoard fails with an environment error.
func TestProbe_EmptyBoard(t *testing.T) {
	t.Parallel()

	versionFile := writeVersion(t, "Version: v1.10.11\n")
	fake := shelltest.New().On(DefaultBoardTool+" getBoardIdE", "\n")

	_, err := New(fake, device.NewAliases(nil), WithSources("", versionFile)).Probe(context.Background())
	require.ErrorIs(t, err, upgrade.ErrEnvironment)
	require.ErrorIs(t, err, device.ErrEmptyBoard)
}

// TestProbe_ToolFailure carries the tool's exit status.
func TestProbe_ToolFailure(t *testing.T) {
	t.Parallel()

	fake := shelltest.New().Fail(DefaultBoardTool+" getBoardIdE", 3)

	_, err := New(fake, device.NewAliases(nil)).Probe(context.Background())
	require.ErrorIs(t, err, upgrade.ErrEnvironment)

	var stageErr *upgrade.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, 3, stageErr.ExitStatus)
	require.Equal(t, upgrade.StageProbe, stageErr.Stage)
}

// TestParseVersionFile finds the version line regardless of case.
func TestParseVersionFile(t *testing.T) {
	t.Parallel()

	v, err := ParseVersionFile(strings.NewReader("Built by: builder\nversion: v1.10.11.5274249\n"), "version")
	require.NoError(t, err)
	require.Equal(t, "v1.10.11.5274249", v)

	_, err = ParseVersionFile(strings.NewReader("Build ID: 1\n"), "version")
	require.ErrorIs(t, err, ErrNoVersionLine)
}
