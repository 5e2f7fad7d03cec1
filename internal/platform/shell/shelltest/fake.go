// Package shelltest provides a scripted shell.Executor for tests.
package shelltest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

var (
	// ErrUnexpected is the cause attached to commands that were not scripted.
	ErrUnexpected = errors.New("unexpected command")
	// ErrScripted is the cause attached to scripted failures.
	ErrScripted = errors.New("scripted failure")
)

// Response is the scripted result of one command line.
type Response struct {
	// Out is returned as standard output.
	Out string
	// Status, when non-zero, makes the command fail with that exit status.
	Status int
	// Hook runs before the response is returned.
	Hook func()
}

// Fake answers commands by their rendered command line and records every call.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	prefixes  []prefixResponse
	calls     []string
}

type prefixResponse struct {
	prefix   string
	response Response
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{responses: make(map[string][]Response)}
}

// On scripts a successful command. Repeated calls for the same command queue answers;
// the last one keeps being returned once the queue is drained.
func (f *Fake) On(command, out string) *Fake {
	return f.Respond(command, Response{Out: out})
}

// Fail scripts a command that exits with status.
func (f *Fake) Fail(command string, status int) *Fake {
	return f.Respond(command, Response{Status: status})
}

// Respond scripts an arbitrary response.
func (f *Fake) Respond(command string, r Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responses[command] = append(f.responses[command], r)

	return f
}

// OnPrefix scripts every command line starting with prefix that has no exact script.
// Prefixes are tried in the order they were added.
func (f *Fake) OnPrefix(prefix string, r Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prefixes = append(f.prefixes, prefixResponse{prefix: prefix, response: r})

	return f
}

// Run implements shell.Executor.
func (f *Fake) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	command := shell.Render(name, args...)

	f.mu.Lock()
	f.calls = append(f.calls, command)

	r, ok := f.lookup(command)
	f.mu.Unlock()

	if !ok {
		return nil, &shell.CommandError{Command: command, Status: 127, Err: ErrUnexpected}
	}

	if r.Hook != nil {
		r.Hook()
	}

	if r.Status != 0 {
		return []byte(r.Out), &shell.CommandError{Command: command, Status: r.Status, Err: ErrScripted}
	}

	return []byte(r.Out), nil
}

// lookup pops the scripted response of command. The caller holds f.mu.
func (f *Fake) lookup(command string) (Response, bool) {
	if queue, ok := f.responses[command]; ok {
		if len(queue) > 1 {
			f.responses[command] = queue[1:]
		}

		return queue[0], true
	}

	for _, p := range f.prefixes {
		if strings.HasPrefix(command, p.prefix) {
			return p.response, true
		}
	}

	return Response{}, false
}

// Calls returns the command lines run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}
