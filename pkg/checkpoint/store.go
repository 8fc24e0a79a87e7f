// Package checkpoint persists the crawl position of each dataset so an
// interrupted run resumes where it stopped.
//
// Each dataset has one JSON file under the store directory. Writes go to a
// temp file in the same directory which is synced and renamed over the old
// checkpoint, so a crash never leaves a truncated file behind.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

// Store reads and writes checkpoints for one dataset.
type Store struct {
	dir     string
	dataset string
}

// NewStore returns a store for dataset rooted at dir.
func NewStore(dir, dataset string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	if strings.TrimSpace(dataset) == "" {
		return nil, errors.New("dataset is required")
	}
	return &Store{dir: dir, dataset: dataset}, nil
}

// Path is the checkpoint file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.dataset+".json")
}

// Load returns the saved checkpoint, or nil if there is none.
func (s *Store) Load() (*models.Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Path(), err)
	}
	if cp.Dataset != "" && cp.Dataset != s.dataset {
		return nil, fmt.Errorf("checkpoint %s belongs to dataset %q", s.Path(), cp.Dataset)
	}
	if cp.Offset < 0 {
		return nil, fmt.Errorf("checkpoint %s has negative offset %d", s.Path(), cp.Offset)
	}
	return &cp, nil
}

// Save atomically replaces the checkpoint with cp.
func (s *Store) Save(cp models.Checkpoint) error {
	cp.Dataset = s.dataset
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(s.Path(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint. A missing checkpoint is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// Some filesystems refuse fsync on directories; the rename already happened.
	_ = f.Sync()
	return nil
}
