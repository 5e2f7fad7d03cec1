package upgrade

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrEnvironment     = errors.New("environment error")
	ErrConcurrentRun   = errors.New("concurrent run")
	ErrReleaseIndex    = errors.New("release index error")
	ErrReleaseNotFound = errors.New("release not found")
	ErrNoMatchingAsset = errors.New("no matching asset")
	ErrAmbiguousAsset  = errors.New("ambiguous asset")
	ErrDownload        = errors.New("download error")
	ErrIntegrity       = errors.New("integrity error")
	ErrConfigBackup    = errors.New("configuration backup error")
	ErrConfigDetach    = errors.New("configuration detach error")
	ErrConfigCommit    = errors.New("configuration commit error")
	ErrModuleUnload    = errors.New("module unload error")
	ErrPackageInstall  = errors.New("package install error")
	ErrConfigRestore   = errors.New("configuration restore error")
	ErrPersistArtifact = errors.New("persist artifact warning")
)

// exitCodes gives every fatal kind its own process exit status.
//
//nolint:gochecknoglobals // Fixed lookup table.
var exitCodes = []struct {
	kind error
	code int
}{
	{ErrEnvironment, 10},
	{ErrConcurrentRun, 11},
	{ErrReleaseIndex, 20},
	{ErrReleaseNotFound, 21},
	{ErrNoMatchingAsset, 30},
	{ErrAmbiguousAsset, 31},
	{ErrDownload, 40},
	{ErrIntegrity, 41},
	{ErrConfigBackup, 50},
	{ErrConfigDetach, 51},
	{ErrConfigCommit, 52},
	{ErrModuleUnload, 60},
	{ErrPackageInstall, 61},
	{ErrConfigRestore, 70},
}

// ExitCode maps err to the process exit status. Unclassified errors give 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	for _, e := range exitCodes {
		if errors.Is(err, e.kind) {
			return e.code
		}
	}

	return 1
}

// Stage names a step of the upgrade workflow.
type Stage string

// Workflow stages in execution order.
const (
	StageGuard    Stage = "guard"
	StageProbe    Stage = "probe"
	StageResolve  Stage = "resolve"
	StageSelect   Stage = "select"
	StageFetch    Stage = "fetch"
	StageSnapshot Stage = "snapshot"
	StageDetach   Stage = "detach"
	StageDelete   Stage = "delete"
	StageUnload   Stage = "unload"
	StageInstall  Stage = "install"
	StageRestore  Stage = "restore"
	StagePersist  Stage = "persist"
)

// StageError is a fatal failure of one workflow stage.
type StageError struct {
	// Stage is the failing step.
	Stage Stage
	// Kind is one of the Err* sentinels.
	Kind error
	// Err is the underlying cause.
	Err error
	// ExitStatus is the exit status of the failing external command, -1 when none ran.
	ExitStatus int
	// Caller is the file:line that raised the failure.
	Caller string
	// RecoveryHint tells the operator how to bring the configuration back.
	RecoveryHint string
}

// Fail builds a StageError recording the caller's source location.
func Fail(stage Stage, kind, err error, exitStatus int) *StageError {
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		caller = filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	return &StageError{
		Stage:      stage,
		Kind:       kind,
		Err:        err,
		ExitStatus: exitStatus,
		Caller:     caller,
	}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s failed (%s, code %d", e.Stage, e.Kind, ExitCode(e.Kind))

	if e.ExitStatus >= 0 {
		fmt.Fprintf(&b, ", exit status %d", e.ExitStatus)
	}

	fmt.Fprintf(&b, ", at %s)", e.Caller)

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	if e.RecoveryHint != "" {
		b.WriteString("; ")
		b.WriteString(e.RecoveryHint)
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// IsHighSeverity reports failures that left the package installed but unconfigured.
func IsHighSeverity(err error) bool {
	return errors.Is(err, ErrConfigRestore)
}
