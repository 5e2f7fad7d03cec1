package vyatta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/platform/shell"
)

const (
	// DefaultShellAPI is the read-side configuration tool.
	DefaultShellAPI = "/bin/cli-shell-api"
	// DefaultCmdWrapper is the session-side configuration tool.
	DefaultCmdWrapper = "/opt/vyatta/sbin/vyatta-cfg-cmd-wrapper"

	// statusNotFound is what cli-shell-api returns for a missing node.
	statusNotFound = 1
)

var (
	// ErrSessionClosed is returned when a session is used after End.
	ErrSessionClosed = errors.New("configuration session is closed")
	// errUnterminatedQuote is returned for malformed cli-shell-api lists.
	errUnterminatedQuote = errors.New("unterminated quote")
)

// Session is an open configuration edit session.
type Session interface {
	Set(ctx context.Context, value string, path ...string) error
	Delete(ctx context.Context, path ...string) error
	Load(ctx context.Context, file string) error
	Commit(ctx context.Context) error
	End(ctx context.Context) error
}

// Store reads the active configuration and opens edit sessions.
type Store struct {
	exec       shell.Executor
	shellAPI   string
	cmdWrapper string
}

// Option configures a Store.
type Option func(*Store)

// WithTools overrides the tool paths.
func WithTools(shellAPI, cmdWrapper string) Option {
	return func(s *Store) {
		if shellAPI != "" {
			s.shellAPI = shellAPI
		}

		if cmdWrapper != "" {
			s.cmdWrapper = cmdWrapper
		}
	}
}

// NewStore returns a Store running commands through exec.
func NewStore(exec shell.Executor, opts ...Option) *Store {
	s := &Store{
		exec:       exec,
		shellAPI:   DefaultShellAPI,
		cmdWrapper: DefaultCmdWrapper,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ExistsActive reports whether path exists in the active configuration.
func (s *Store) ExistsActive(ctx context.Context, path ...string) (bool, error) {
	_, err := s.api(ctx, "existsActive", path...)
	if err == nil {
		return true, nil
	}

	if shell.ExitStatus(err) == statusNotFound {
		return false, nil
	}

	return false, err
}

// ShowActive dumps the whole active configuration in loadable form.
func (s *Store) ShowActive(ctx context.Context) ([]byte, error) {
	out, err := s.exec.Run(ctx, s.shellAPI, "showConfig", "--show-active-only", "--show-ignore-edit")
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListActiveNodes returns the child node names under path.
func (s *Store) ListActiveNodes(ctx context.Context, path ...string) ([]string, error) {
	out, err := s.api(ctx, "listActiveNodes", path...)
	if err != nil {
		if shell.ExitStatus(err) == statusNotFound {
			return nil, nil
		}

		return nil, err
	}

	return ParseList(string(out))
}

// ActiveValue returns the value of a leaf, empty when the leaf is absent.
func (s *Store) ActiveValue(ctx context.Context, path ...string) (string, error) {
	out, err := s.api(ctx, "returnActiveValue", path...)
	if err != nil {
		if shell.ExitStatus(err) == statusNotFound {
			return "", nil
		}

		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}

// ActiveValues returns the values of a multi-value leaf.
func (s *Store) ActiveValues(ctx context.Context, path ...string) ([]string, error) {
	out, err := s.api(ctx, "returnActiveValues", path...)
	if err != nil {
		if shell.ExitStatus(err) == statusNotFound {
			return nil, nil
		}

		return nil, err
	}

	return ParseList(string(out))
}

// Begin opens an edit session.
//
//nolint:ireturn // Callers hold the session through the interface.
func (s *Store) Begin(ctx context.Context) (Session, error) {
	if _, err := s.exec.Run(ctx, s.cmdWrapper, "begin"); err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}

	return &session{store: s}, nil
}

func (s *Store) api(ctx context.Context, op string, path ...string) ([]byte, error) {
	return s.exec.Run(ctx, s.shellAPI, append([]string{op}, path...)...)
}

// session implements Session with vyatta-cfg-cmd-wrapper.
type session struct {
	store  *Store
	closed bool
}

func (s *session) wrapper(ctx context.Context, args ...string) error {
	if s.closed {
		return ErrSessionClosed
	}

	_, err := s.store.exec.Run(ctx, s.store.cmdWrapper, args...)

	return err
}

// Set assigns value to the leaf at path.
func (s *session) Set(ctx context.Context, value string, path ...string) error {
	args := append(append([]string{"set"}, path...), value)

	return s.wrapper(ctx, args...)
}

// Delete removes the subtree at path.
func (s *session) Delete(ctx context.Context, path ...string) error {
	return s.wrapper(ctx, append([]string{"delete"}, path...)...)
}

// Load replaces the working configuration with the contents of file.
func (s *session) Load(ctx context.Context, file string) error {
	return s.wrapper(ctx, "load", file)
}

// Commit applies the working configuration.
func (s *session) Commit(ctx context.Context) error {
	return s.wrapper(ctx, "commit")
}

// End tears the session down. Calling it twice is a no-op.
func (s *session) End(ctx context.Context) error {
	if s.closed {
		return nil
	}

	s.closed = true

	_, err := s.store.exec.Run(ctx, s.store.cmdWrapper, "end")

	return err
}

// ParseList splits cli-shell-api output such as `'wg0' 'wg1'` into values.
// Unquoted tokens are accepted as well.
func ParseList(out string) ([]string, error) {
	var (
		values  []string
		current strings.Builder
		quoted  bool
		inToken bool
	)

	for _, r := range out {
		switch {
		case r == '\'':
			quoted = !quoted
			inToken = true
		case !quoted && (r == ' ' || r == '\n' || r == '\t' || r == '\r'):
			if inToken {
				values = append(values, current.String())
				current.Reset()

				inToken = false
			}
		default:
			current.WriteRune(r)

			inToken = true
		}
	}

	if quoted {
		return nil, fmt.Errorf("parse %q: %w", out, errUnterminatedQuote)
	}

	if inToken {
		values = append(values, current.String())
	}

	return values, nil
}
