package runctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/vyatta"
)

// tempPattern names the scratch directory of a run.
const tempPattern = "wg-upgrade-"

var (
	// ErrSessionOpen is returned when a second session is requested.
	ErrSessionOpen = errors.New("configuration session already open")
	// ErrClosed is returned when the run was already closed.
	ErrClosed = errors.New("run context is closed")
)

// SessionOpener opens configuration sessions.
type SessionOpener interface {
	Begin(ctx context.Context) (vyatta.Session, error)
}

// Run is the explicit state of one upgrade run.
type Run struct {
	dir string

	mu      sync.Mutex
	session vyatta.Session
	closed  bool
	kept    map[string]struct{}
	once    sync.Once
	err     error
}

// New creates the scratch directory under parent ("" means os.TempDir).
func New(parent string) (*Run, error) {
	dir, err := os.MkdirTemp(parent, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	return &Run{dir: dir}, nil
}

// Dir returns the scratch directory.
func (r *Run) Dir() string {
	return r.dir
}

// Path returns name inside the scratch directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.dir, name)
}

// OpenSession begins a configuration session owned by the run.
//
//nolint:ireturn // The session is only known through its interface.
func (r *Run) OpenSession(ctx context.Context, opener SessionOpener) (vyatta.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if r.session != nil {
		return nil, ErrSessionOpen
	}

	session, err := opener.Begin(ctx)
	if err != nil {
		return nil, err
	}

	r.session = session

	return session, nil
}

// Session returns the open session or nil.
//
//nolint:ireturn // The session is only known through its interface.
func (r *Run) Session() vyatta.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.session
}

// Keep excludes path from the cleanup done by Close. The directory itself
// stays on disk as long as anything in it is kept.
func (r *Run) Keep(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kept == nil {
		r.kept = make(map[string]struct{})
	}

	r.kept[filepath.Clean(path)] = struct{}{}
}

// CloseSession ends the open session, if any.
func (r *Run) CloseSession(ctx context.Context) error {
	r.mu.Lock()
	session := r.session
	r.session = nil
	r.mu.Unlock()

	if session == nil {
		return nil
	}

	if err := session.End(ctx); err != nil {
		return fmt.Errorf("end configuration session: %w", err)
	}

	return nil
}

// Close ends any open session and removes the scratch directory,
// sparing the paths passed to Keep.
// Only the first call does work; later calls return its result.
func (r *Run) Close(ctx context.Context) error {
	r.once.Do(func() {
		sessionErr := r.CloseSession(ctx)

		r.mu.Lock()
		r.closed = true
		kept := r.kept
		r.mu.Unlock()

		if len(kept) > 0 {
			r.err = errors.Join(sessionErr, r.removeExcept(kept))

			logger.WarnKV(ctx, "Working directory kept", "path", r.dir)

			return
		}

		removeErr := os.RemoveAll(r.dir)
		if removeErr != nil {
			removeErr = fmt.Errorf("remove working directory: %w", removeErr)
		}

		r.err = errors.Join(sessionErr, removeErr)

		logger.DebugKV(ctx, "Working directory removed", "path", r.dir)
	})

	return r.err
}

func (r *Run) removeExcept(kept map[string]struct{}) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read working directory: %w", err)
	}

	var errs []error

	for _, entry := range entries {
		path := filepath.Join(r.dir, entry.Name())
		if _, ok := kept[path]; ok {
			continue
		}

		if err = os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}
