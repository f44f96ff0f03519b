package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
)

const (
	// DataArtifact holds the project activity records of the last successful run
	DataArtifact = "data.json"
	// StatusArtifact holds the outcome of the last run
	StatusArtifact = "status.json"

	// NoDataMessage is reported when no run has published a status yet
	NoDataMessage = "No data found. Did you run the collector first?"
)

// Store reads and writes the snapshot artifacts in a single directory
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the artifacts
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of the named artifact
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// WriteActivities replaces the data artifact
func (s *Store) WriteActivities(records []*domain.ProjectActivity) error {
	if records == nil {
		records = []*domain.ProjectActivity{}
	}
	return s.write(DataArtifact, records)
}

// WriteStatus replaces the status artifact
func (s *Store) WriteStatus(status *domain.RunStatus) error {
	return s.write(StatusArtifact, status)
}

// write serializes v to a temporary file and renames it over the artifact,
// so readers see either the old or the new document.
func (s *Store) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ReadActivities loads the data artifact.
// A missing artifact is reported as a not found error.
func (s *Store) ReadActivities() ([]*domain.ProjectActivity, error) {
	var records []*domain.ProjectActivity
	if err := s.read(DataArtifact, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []*domain.ProjectActivity{}
	}
	return records, nil
}

// ReadStatus loads the status artifact.
// A missing artifact is reported as a not found error.
func (s *Store) ReadStatus() (*domain.RunStatus, error) {
	var status domain.RunStatus
	if err := s.read(StatusArtifact, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *Store) read(name string, out any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError(name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewInternalError(name+" is malformed", err)
	}
	return nil
}
