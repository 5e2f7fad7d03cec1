package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs a command and returns its standard output.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError describes a command that exited unsuccessfully or could not start.
type CommandError struct {
	// Command is the rendered command line.
	Command string
	// Status is the exit status, -1 when the command did not run to completion.
	Status int
	// Stderr is the trimmed standard error output.
	Stderr string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.Status)
	if e.Status < 0 {
		msg = fmt.Sprintf("%s: %v", e.Command, e.Err)
	}

	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitStatus extracts the exit status from err, -1 when err does not carry one.
func ExitStatus(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Status
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// Exec runs commands with os/exec.
type Exec struct {
	env []string
}

// NewExec returns an executor inheriting the process environment.
func NewExec() *Exec {
	return new(Exec)
}

// WithEnv returns a copy that appends env to the inherited environment.
func (e *Exec) WithEnv(env ...string) *Exec {
	merged := append(append([]string(nil), e.env...), env...)

	return &Exec{env: merged}
}

// Run executes name with args and returns stdout.
func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		status := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}

		return stdout.Bytes(), &CommandError{
			Command: Render(name, args...),
			Status:  status,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return stdout.Bytes(), nil
}

// Render joins a command line for messages.
func Render(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
