package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
)

// Repository defines persistence operations for the run journal.
type Repository interface {
	Load(ctx context.Context) (*upgrade.Record, error)
	Save(ctx context.Context, record *upgrade.Record) error
}

// FileRepository persists the journal to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the journal file.
	path string
	// mu protects concurrent access to the journal file.
	mu sync.Mutex
}

// ErrNotFound is returned when no run has been journaled yet.
var ErrNotFound = errors.New("journal not found")

// document is the on-disk layout of a record.
type document struct {
	StartedAt        time.Time `yaml:"started_at"`
	FinishedAt       time.Time `yaml:"finished_at"`
	Status           string    `yaml:"status"`
	Board            string    `yaml:"board,omitempty"`
	RawBoard         string    `yaml:"raw_board,omitempty"`
	Firmware         string    `yaml:"firmware,omitempty"`
	InstalledVersion string    `yaml:"installed_version,omitempty"`
	TargetVersion    string    `yaml:"target_version,omitempty"`
	Pinned           bool      `yaml:"pinned,omitempty"`
	Asset            string    `yaml:"asset,omitempty"`
	ConfigRestored   bool      `yaml:"config_restored,omitempty"`
	FailedStage      string    `yaml:"failed_stage,omitempty"`
	Error            string    `yaml:"error,omitempty"`
	ExitCode         int       `yaml:"exit_code"`
	RecoveryFile     string    `yaml:"recovery_file,omitempty"`
	Warnings         []string  `yaml:"warnings,omitempty"`
}

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the journal file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the last record from disk.
func (r *FileRepository) Load(_ context.Context) (*upgrade.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var doc document
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode journal file: %w", err)
	}

	return fromDocument(&doc), nil
}

// Save replaces the journal with record. The file is written next to the
// target and renamed over it, so readers never see a partial journal.
func (r *FileRepository) Save(_ context.Context, record *upgrade.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := Encode(record)
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+"-*")
	if err != nil {
		return fmt.Errorf("create journal file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write journal file: %w", err)
	}

	if err = tmp.Chmod(config.DefaultFilePermissions); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("chmod journal file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close journal file: %w", err)
	}

	if err = os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace journal file: %w", err)
	}

	return nil
}

// Encode renders record in the on-disk YAML layout.
func Encode(record *upgrade.Record) ([]byte, error) {
	data, err := yaml.Marshal(toDocument(record))
	if err != nil {
		return nil, fmt.Errorf("encode journal: %w", err)
	}

	return data, nil
}

func fromDocument(doc *document) *upgrade.Record {
	return &upgrade.Record{
		StartedAt:        doc.StartedAt,
		FinishedAt:       doc.FinishedAt,
		Status:           upgrade.Status(doc.Status),
		Board:            doc.Board,
		RawBoard:         doc.RawBoard,
		Firmware:         doc.Firmware,
		InstalledVersion: doc.InstalledVersion,
		TargetVersion:    doc.TargetVersion,
		Pinned:           doc.Pinned,
		Asset:            doc.Asset,
		ConfigRestored:   doc.ConfigRestored,
		FailedStage:      upgrade.Stage(doc.FailedStage),
		Error:            doc.Error,
		ExitCode:         doc.ExitCode,
		RecoveryFile:     doc.RecoveryFile,
		Warnings:         doc.Warnings,
	}
}

func toDocument(record *upgrade.Record) *document {
	return &document{
		StartedAt:        record.StartedAt.UTC(),
		FinishedAt:       record.FinishedAt.UTC(),
		Status:           string(record.Status),
		Board:            record.Board,
		RawBoard:         record.RawBoard,
		Firmware:         record.Firmware,
		InstalledVersion: record.InstalledVersion,
		TargetVersion:    record.TargetVersion,
		Pinned:           record.Pinned,
		Asset:            record.Asset,
		ConfigRestored:   record.ConfigRestored,
		FailedStage:      string(record.FailedStage),
		Error:            record.Error,
		ExitCode:         record.ExitCode,
		RecoveryFile:     record.RecoveryFile,
		Warnings:         record.Warnings,
	}
}
