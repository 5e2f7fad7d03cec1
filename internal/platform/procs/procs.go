package procs

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/go-ps"
)

// PackageManagers are the executables that hold the dpkg lock while running.
//
//nolint:gochecknoglobals // Fixed list.
var PackageManagers = []string{"dpkg", "apt", "apt-get", "aptitude", "unattended-upgr"}

// Process is a running process matched by name.
type Process struct {
	// PID is the process id.
	PID int
	// Executable is the process name.
	Executable string
}

// String renders the process for messages.
func (p Process) String() string {
	return fmt.Sprintf("%s[%d]", p.Executable, p.PID)
}

// Lister returns a snapshot of the process table.
type Lister func() ([]ps.Process, error)

// Table looks up processes other than the current one.
type Table struct {
	list Lister
	self int
}

// New returns a Table over the live process table.
func New() *Table {
	return NewWithLister(ps.Processes, os.Getpid())
}

// NewWithLister returns a Table over list ignoring pid self.
func NewWithLister(list Lister, self int) *Table {
	return &Table{
		list: list,
		self: self,
	}
}

// Find returns processes whose executable name is one of names.
func (t *Table) Find(names ...string) ([]Process, error) {
	processes, err := t.list()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var found []Process

	for _, p := range processes {
		if p.Pid() == t.self || p.PPid() == t.self {
			continue
		}

		if slices.Contains(names, p.Executable()) {
			found = append(found, Process{PID: p.Pid(), Executable: p.Executable()})
		}
	}

	return found, nil
}

// OtherInstances returns other processes running the current executable.
func (t *Table) OtherInstances() ([]Process, error) {
	return t.Find(SelfName())
}

// PackageManagerBusy returns running package managers.
func (t *Table) PackageManagerBusy() ([]Process, error) {
	return t.Find(PackageManagers...)
}

// SelfName is the executable name of the current process as the process table shows it.
func SelfName() string {
	name := filepath.Base(os.Args[0])

	// Linux truncates comm to 15 bytes.
	const commLen = 15
	if len(name) > commLen {
		name = name[:commLen]
	}

	return strings.TrimSpace(name)
}

// Join renders processes for messages.
func Join(processes []Process) string {
	parts := make([]string, 0, len(processes))
	for _, p := range processes {
		parts = append(parts, p.String())
	}

	return strings.Join(parts, ", ")
}
