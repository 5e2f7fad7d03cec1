package upgrade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errCause = errors.New("dpkg: error processing archive")

// TestStageError_Matching checks errors.Is against the kind and the cause.
func TestStageError_Matching(t *testing.T) {
	t.Parallel()

	err := Fail(StageInstall, ErrPackageInstall, errCause, 2)
	wrapped := fmt.Errorf("run: %w", err)

	require.ErrorIs(t, wrapped, ErrPackageInstall)
	require.ErrorIs(t, wrapped, errCause)
	require.NotErrorIs(t, wrapped, ErrConfigRestore)

	var stageErr *StageError
	require.ErrorAs(t, wrapped, &stageErr)
	require.Equal(t, StageInstall, stageErr.Stage)
	require.Equal(t, 61, ExitCode(wrapped))
}

// TestStageError_Message reports stage, code, exit status, source line and hint.
func TestStageError_Message(t *testing.T) {
	t.Parallel()

	err := Fail(StageUnload, ErrModuleUnload, errCause, 1)
	err.RecoveryHint = "load /config/recovery.boot"

	msg := err.Error()
	require.Contains(t, msg, "unload failed")
	require.Contains(t, msg, "code 60")
	require.Contains(t, msg, "exit status 1")
	require.Contains(t, msg, "errors_test.go:")
	require.Contains(t, msg, errCause.Error())
	require.Contains(t, msg, "load /config/recovery.boot")

	noExec := Fail(StageSelect, ErrNoMatchingAsset, nil, -1)
	require.NotContains(t, noExec.Error(), "exit status")
}

// TestExitCode covers unique codes per kind and the fallbacks.
func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errCause))

	seen := make(map[int]error, len(exitCodes))
	for _, e := range exitCodes {
		code := ExitCode(e.kind)
		require.NotContains(t, seen, code, "duplicate exit code for %v", e.kind)

		seen[code] = e.kind
	}
}

// TestIsHighSeverity flags only restore failures.
func TestIsHighSeverity(t *testing.T) {
	t.Parallel()

	require.True(t, IsHighSeverity(Fail(StageRestore, ErrConfigRestore, errCause, 1)))
	require.False(t, IsHighSeverity(Fail(StageInstall, ErrPackageInstall, errCause, 1)))
}
