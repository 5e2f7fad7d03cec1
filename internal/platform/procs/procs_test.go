package procs

import (
	"errors"
	"os"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

var errListFailed = errors.New("list failed")

// fakeProcess implements ps.Process.
type fakeProcess struct {
	pid  int
	ppid int
	exe  string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return p.ppid }
func (p fakeProcess) Executable() string { return p.exe }

func lister(processes ...ps.Process) Lister {
	return func() ([]ps.Process, error) {
		return processes, nil
	}
}

// TestFind skips the current process and its children.
func TestFind(t *testing.T) {
	t.Parallel()

	table := NewWithLister(lister(
		fakeProcess{pid: 100, ppid: 1, exe: "wg-upgrade"},
		fakeProcess{pid: 101, ppid: 100, exe: "dpkg"},
		fakeProcess{pid: 200, ppid: 1, exe: "wg-upgrade"},
		fakeProcess{pid: 300, ppid: 1, exe: "apt-get"},
		fakeProcess{pid: 400, ppid: 1, exe: "sshd"},
	), 100)

	found, err := table.Find("wg-upgrade")
	require.NoError(t, err)
	require.Equal(t, []Process{{PID: 200, Executable: "wg-upgrade"}}, found)

	busy, err := table.PackageManagerBusy()
	require.NoError(t, err)
	require.Equal(t, []Process{{PID: 300, Executable: "apt-get"}}, busy)
	require.Equal(t, "apt-get[300]", Join(busy))
}

// TestFind_ListError wraps lister failures.
func TestFind_ListError(t *testing.T) {
	t.Parallel()

	table := NewWithLister(func() ([]ps.Process, error) {
		return nil, errListFailed
	}, 1)

	_, err := table.OtherInstances()
	require.ErrorIs(t, err, errListFailed)
}

// TestNew_LiveTable lists the real process table and never reports itself.
func TestNew_LiveTable(t *testing.T) {
	t.Parallel()

	found, err := New().OtherInstances()
	require.NoError(t, err)

	for _, p := range found {
		require.NotEqual(t, os.Getpid(), p.PID)
	}
}
