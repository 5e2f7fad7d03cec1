package upgrade

import "time"

// Status is the overall outcome of a run.
type Status string

const (
	// StatusUpToDate means no upgrade was needed.
	StatusUpToDate Status = "up-to-date"
	// StatusInstalled means the package was installed.
	StatusInstalled Status = "installed"
	// StatusFailed means a fatal error stopped the run.
	StatusFailed Status = "failed"
)

// Result summarizes a finished run.
type Result struct {
	// Status is the outcome.
	Status Status
	// Board is the canonical board tag.
	Board string
	// Firmware is the firmware version string.
	Firmware string
	// InstalledVersion is the version found before the run, empty when absent.
	InstalledVersion string
	// TargetVersion is the selected release tag.
	TargetVersion string
	// Asset is the name of the installed asset.
	Asset string
	// ConfigRestored is set when a configuration snapshot was loaded back.
	ConfigRestored bool
	// Warnings collects recoverable problems, such as a failed first-boot copy.
	Warnings []error
}

// Record is the journal entry of one run.
type Record struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           Status
	Board            string
	RawBoard         string
	Firmware         string
	InstalledVersion string
	TargetVersion    string
	Pinned           bool
	Asset            string
	ConfigRestored   bool
	FailedStage      Stage
	Error            string
	ExitCode         int
	// RecoveryFile is the preserved configuration snapshot of a failed run.
	RecoveryFile string
	Warnings     []string
}
